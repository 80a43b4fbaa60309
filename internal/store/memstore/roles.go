package memstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/tenantkit/internal/models"
	"github.com/nikhilbhutani/tenantkit/internal/store"
)

type roles struct {
	h      handle
	schema string
}

func (r *roles) Schema() string { return r.schema }

// in runs fn against the bound schema; an unprovisioned schema fails the
// same way a missing relation does in Postgres.
func (r *roles) in(op string, fn func(st *state, sc *schemaState) error) error {
	return r.h.do(op, func(st *state) error {
		sc, ok := st.schemas[r.schema]
		if !ok {
			return fmt.Errorf("schema %q does not exist", r.schema)
		}
		return fn(st, sc)
	})
}

func (r *roles) EnsureRole(_ context.Context, name string) (*models.Role, error) {
	var out *models.Role
	err := r.in("roles.ensure", func(st *state, sc *schemaState) error {
		for _, role := range sc.roles {
			if role.Name == name {
				out = withPermissions(st, sc, role)
				return nil
			}
		}
		role := models.Role{ID: st.id(), Name: name, CreatedAt: now()}
		sc.roles[role.ID] = role
		out = withPermissions(st, sc, role)
		return nil
	})
	return out, err
}

func (r *roles) GetRoles(_ context.Context, ids []int64) ([]models.Role, error) {
	out := []models.Role{}
	err := r.in("roles.get", func(st *state, sc *schemaState) error {
		seen := map[int64]bool{}
		for _, id := range ids {
			role, ok := sc.roles[id]
			if !ok || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, *withPermissions(st, sc, role))
		}
		sortRoles(out)
		return nil
	})
	return out, err
}

func (r *roles) ListRoles(_ context.Context) ([]models.Role, error) {
	out := []models.Role{}
	err := r.in("roles.list", func(st *state, sc *schemaState) error {
		for _, role := range sc.roles {
			out = append(out, *withPermissions(st, sc, role))
		}
		sortRoles(out)
		return nil
	})
	return out, err
}

func (r *roles) GrantPermissions(_ context.Context, roleID int64, permissionIDs []int64) error {
	return r.in("roles.grant", func(st *state, sc *schemaState) error {
		return grant(sc.rolePerms, roleID, permissionIDs)
	})
}

func (r *roles) SetPermissions(_ context.Context, roleID int64, permissionIDs []int64) error {
	return r.in("roles.setPermissions", func(st *state, sc *schemaState) error {
		delete(sc.rolePerms, roleID)
		return grant(sc.rolePerms, roleID, permissionIDs)
	})
}

func (r *roles) AssignRoles(_ context.Context, userID uuid.UUID, roleIDs []int64) error {
	return r.in("roles.assign", func(st *state, sc *schemaState) error {
		for _, id := range roleIDs {
			if _, ok := sc.roles[id]; !ok {
				return fmt.Errorf("assign roles: unknown role %d", id)
			}
		}
		return grantUser(sc.userRoles, userID, roleIDs)
	})
}

func (r *roles) SetUserRoles(_ context.Context, userID uuid.UUID, roleIDs []int64) error {
	return r.in("roles.setUserRoles", func(st *state, sc *schemaState) error {
		delete(sc.userRoles, userID)
		return grantUser(sc.userRoles, userID, roleIDs)
	})
}

func (r *roles) SetUserPermissions(_ context.Context, userID uuid.UUID, permissionIDs []int64) error {
	return r.in("roles.setUserPermissions", func(st *state, sc *schemaState) error {
		delete(sc.userPerms, userID)
		return grantUser(sc.userPerms, userID, permissionIDs)
	})
}

func (r *roles) UserRoles(_ context.Context, userID uuid.UUID) ([]models.Role, error) {
	out := []models.Role{}
	err := r.in("roles.userRoles", func(st *state, sc *schemaState) error {
		out = userRoles(st, sc, userID)
		return nil
	})
	return out, err
}

func (r *roles) UserPermissions(_ context.Context, userID uuid.UUID) ([]models.Permission, error) {
	out := []models.Permission{}
	err := r.in("roles.userPermissions", func(st *state, sc *schemaState) error {
		out = permissionsByID(st, sc.userPerms[userID])
		return nil
	})
	return out, err
}

func (r *roles) ListUserRoles(_ context.Context) ([]store.UserRoles, error) {
	out := []store.UserRoles{}
	err := r.in("roles.listUserRoles", func(st *state, sc *schemaState) error {
		for _, id := range sortedUsers(sc.userRoles) {
			out = append(out, store.UserRoles{UserID: id, Roles: userRoles(st, sc, id)})
		}
		return nil
	})
	return out, err
}

func (r *roles) ListUserPermissions(_ context.Context) ([]store.UserPermissions, error) {
	out := []store.UserPermissions{}
	err := r.in("roles.listUserPermissions", func(st *state, sc *schemaState) error {
		for _, id := range sortedUsers(sc.userPerms) {
			out = append(out, store.UserPermissions{UserID: id, Permissions: permissionsByID(st, sc.userPerms[id])})
		}
		return nil
	})
	return out, err
}

func (r *roles) HasAnyRole(_ context.Context, userID uuid.UUID, names []string) (bool, error) {
	var ok bool
	err := r.in("roles.hasRole", func(st *state, sc *schemaState) error {
		for roleID := range sc.userRoles[userID] {
			for _, name := range names {
				if sc.roles[roleID].Name == name {
					ok = true
					return nil
				}
			}
		}
		return nil
	})
	return ok, err
}

func (r *roles) HasAnyPermission(_ context.Context, userID uuid.UUID, codenames []string) (bool, error) {
	var ok bool
	err := r.in("roles.hasPermission", func(st *state, sc *schemaState) error {
		held := cloneSet(sc.userPerms[userID])
		for roleID := range sc.userRoles[userID] {
			for permID := range sc.rolePerms[roleID] {
				held[permID] = true
			}
		}
		for _, p := range permissionsByID(st, held) {
			for _, c := range codenames {
				if p.Codename == c {
					ok = true
					return nil
				}
			}
		}
		return nil
	})
	return ok, err
}

func grant(m map[int64]map[int64]bool, key int64, ids []int64) error {
	if m[key] == nil {
		m[key] = map[int64]bool{}
	}
	for _, id := range ids {
		m[key][id] = true
	}
	return nil
}

func grantUser(m map[uuid.UUID]map[int64]bool, userID uuid.UUID, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if m[userID] == nil {
		m[userID] = map[int64]bool{}
	}
	for _, id := range ids {
		m[userID][id] = true
	}
	return nil
}

func withPermissions(st *state, sc *schemaState, role models.Role) *models.Role {
	role.Permissions = permissionsByID(st, sc.rolePerms[role.ID])
	return &role
}

func userRoles(st *state, sc *schemaState, userID uuid.UUID) []models.Role {
	out := []models.Role{}
	for _, id := range sortedKeys(sc.userRoles[userID]) {
		out = append(out, *withPermissions(st, sc, sc.roles[id]))
	}
	return out
}

func permissionsByID(st *state, ids map[int64]bool) []models.Permission {
	out := []models.Permission{}
	for _, p := range st.permissions {
		if ids[p.ID] {
			out = append(out, p)
		}
	}
	return out
}

func sortRoles(roles []models.Role) {
	sort.Slice(roles, func(i, j int) bool { return roles[i].ID < roles[j].ID })
}

func sortedUsers(m map[uuid.UUID]map[int64]bool) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(m))
	for id, set := range m {
		if len(set) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}
