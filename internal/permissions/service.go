// Package permissions manages roles and grants inside the tenant bound to
// the request context.
package permissions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/tenantkit/internal/apperr"
	"github.com/nikhilbhutani/tenantkit/internal/models"
	"github.com/nikhilbhutani/tenantkit/internal/store"
	"github.com/nikhilbhutani/tenantkit/internal/tenant"
)

var (
	ErrNoTenant          = apperr.New(apperr.KindTenantNotFound, "Tenant not found")
	ErrUnknownPermission = apperr.Validation("One or more permissions do not exist")
	ErrUnknownRole       = apperr.Validation("One or more roles do not exist")
	ErrNotMember         = apperr.Validation("User is not a member of this tenant")
)

type Service struct {
	store store.Store
}

func NewService(s store.Store) *Service {
	return &Service{store: s}
}

func (s *Service) bound(ctx context.Context) (*models.Tenant, error) {
	t := tenant.FromContext(ctx)
	if t == nil {
		return nil, ErrNoTenant
	}
	return t, nil
}

// scoped returns the RBAC repository of the bound tenant, read through repos
// (the store, or a transaction).
func scoped(ctx context.Context, repos store.Repos) (store.Roles, error) {
	roles, ok := tenant.Roles(ctx, repos)
	if !ok {
		return nil, ErrNoTenant
	}
	return roles, nil
}

// Catalog lists every permission that can be granted.
func (s *Service) Catalog(ctx context.Context) ([]models.Permission, error) {
	perms, err := s.store.Permissions().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	return perms, nil
}

func (s *Service) ListRoles(ctx context.Context) ([]models.Role, error) {
	roles, err := scoped(ctx, s.store)
	if err != nil {
		return nil, err
	}
	out, err := roles.ListRoles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return out, nil
}

type RoleInput struct {
	Name string `json:"name" validate:"required,max=100"`
	// Permissions are catalog ids. Responses list the full permissions.
	Permissions []int64 `json:"permission_ids"`
}

// SaveRole creates the named role, or replaces the permission set of an
// existing role with that name.
func (s *Service) SaveRole(ctx context.Context, in RoleInput) (*models.Role, error) {
	if err := apperr.ValidateStruct(in); err != nil {
		return nil, err
	}
	if _, err := s.bound(ctx); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	ids := dedupe(in.Permissions)

	var out *models.Role
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		if err := checkPermissions(ctx, tx, ids); err != nil {
			return err
		}
		roles, err := scoped(ctx, tx)
		if err != nil {
			return err
		}
		role, err := roles.EnsureRole(ctx, name)
		if err != nil {
			return err
		}
		if err := roles.SetPermissions(ctx, role.ID, ids); err != nil {
			return err
		}
		saved, err := roles.GetRoles(ctx, []int64{role.ID})
		if err != nil {
			return err
		}
		out = &saved[0]
		return nil
	})
	if err != nil {
		return nil, wrap("save role", err)
	}
	return out, nil
}

func (s *Service) ListUserRoles(ctx context.Context) ([]store.UserRoles, error) {
	roles, err := scoped(ctx, s.store)
	if err != nil {
		return nil, err
	}
	out, err := roles.ListUserRoles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list user roles: %w", err)
	}
	return out, nil
}

type UserRolesInput struct {
	UserID uuid.UUID `json:"user" validate:"required"`
	Roles  []int64   `json:"roles"`
}

// SetUserRoles replaces the roles held by a member of the bound tenant.
func (s *Service) SetUserRoles(ctx context.Context, in UserRolesInput) (*store.UserRoles, error) {
	if err := apperr.ValidateStruct(in); err != nil {
		return nil, err
	}
	t, err := s.bound(ctx)
	if err != nil {
		return nil, err
	}

	var out *store.UserRoles
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		if err := checkMember(ctx, tx, in.UserID, t.ID); err != nil {
			return err
		}
		roles, err := scoped(ctx, tx)
		if err != nil {
			return err
		}
		ids := dedupe(in.Roles)
		found, err := roles.GetRoles(ctx, ids)
		if err != nil {
			return err
		}
		if len(found) != len(ids) {
			return ErrUnknownRole
		}
		if err := roles.SetUserRoles(ctx, in.UserID, ids); err != nil {
			return err
		}
		out = &store.UserRoles{UserID: in.UserID, Roles: found}
		return nil
	})
	if err != nil {
		return nil, wrap("set user roles", err)
	}
	return out, nil
}

func (s *Service) ListUserPermissions(ctx context.Context) ([]store.UserPermissions, error) {
	roles, err := scoped(ctx, s.store)
	if err != nil {
		return nil, err
	}
	out, err := roles.ListUserPermissions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list user permissions: %w", err)
	}
	return out, nil
}

type UserPermissionsInput struct {
	UserID      uuid.UUID `json:"user" validate:"required"`
	Permissions []int64   `json:"permission_ids"`
}

// SetUserPermissions replaces the direct grants of a member of the bound
// tenant. Role-granted permissions are untouched.
func (s *Service) SetUserPermissions(ctx context.Context, in UserPermissionsInput) (*store.UserPermissions, error) {
	if err := apperr.ValidateStruct(in); err != nil {
		return nil, err
	}
	t, err := s.bound(ctx)
	if err != nil {
		return nil, err
	}

	var out *store.UserPermissions
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		if err := checkMember(ctx, tx, in.UserID, t.ID); err != nil {
			return err
		}
		ids := dedupe(in.Permissions)
		if err := checkPermissions(ctx, tx, ids); err != nil {
			return err
		}
		roles, err := scoped(ctx, tx)
		if err != nil {
			return err
		}
		if err := roles.SetUserPermissions(ctx, in.UserID, ids); err != nil {
			return err
		}
		perms, err := roles.UserPermissions(ctx, in.UserID)
		if err != nil {
			return err
		}
		out = &store.UserPermissions{UserID: in.UserID, Permissions: perms}
		return nil
	})
	if err != nil {
		return nil, wrap("set user permissions", err)
	}
	return out, nil
}

type Me struct {
	User        *models.User        `json:"user"`
	Tenant      *models.Tenant      `json:"tenant"`
	Roles       []models.Role       `json:"roles"`
	Permissions []models.Permission `json:"permissions"`
}

// Me describes what u may do in the bound tenant. Permissions merge
// role-granted and direct grants.
func (s *Service) Me(ctx context.Context, u *models.User) (*Me, error) {
	t, err := s.bound(ctx)
	if err != nil {
		return nil, err
	}
	roles, err := scoped(ctx, s.store)
	if err != nil {
		return nil, err
	}

	held, err := roles.UserRoles(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("load user roles: %w", err)
	}
	direct, err := roles.UserPermissions(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("load user permissions: %w", err)
	}

	merged := map[int64]models.Permission{}
	for _, r := range held {
		for _, p := range r.Permissions {
			merged[p.ID] = p
		}
	}
	for _, p := range direct {
		merged[p.ID] = p
	}
	perms := make([]models.Permission, 0, len(merged))
	for _, p := range merged {
		perms = append(perms, p)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].ID < perms[j].ID })

	return &Me{User: u, Tenant: t, Roles: held, Permissions: perms}, nil
}

func checkPermissions(ctx context.Context, tx store.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	found, err := tx.Permissions().GetByIDs(ctx, ids)
	if err != nil {
		return err
	}
	if len(found) != len(ids) {
		return ErrUnknownPermission
	}
	return nil
}

func checkMember(ctx context.Context, tx store.Tx, userID, tenantID uuid.UUID) error {
	ok, err := tx.Users().IsMember(ctx, userID, tenantID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotMember
	}
	return nil
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func wrap(op string, err error) error {
	var e *apperr.Error
	if errors.As(err, &e) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}
