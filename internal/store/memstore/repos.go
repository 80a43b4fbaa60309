package memstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/tenantkit/internal/models"
	"github.com/nikhilbhutani/tenantkit/internal/store"
)

type users struct{ h handle }

func (r *users) Create(_ context.Context, u *models.User) error {
	return r.h.do("users.create", func(st *state) error {
		u.Email = strings.ToLower(u.Email)
		for _, existing := range st.users {
			if existing.Email == u.Email {
				return fmt.Errorf("create user: %w", store.ErrConflict)
			}
		}
		if u.ID == uuid.Nil {
			u.ID = uuid.New()
		}
		u.CreatedAt, u.UpdatedAt = now(), now()
		st.users[u.ID] = *u
		return nil
	})
}

func (r *users) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	var out *models.User
	err := r.h.do("users.get", func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return fmt.Errorf("user: %w", store.ErrNotFound)
		}
		out = &u
		return nil
	})
	return out, err
}

func (r *users) GetByEmail(_ context.Context, email string) (*models.User, error) {
	email = strings.ToLower(email)
	var out *models.User
	err := r.h.do("users.get", func(st *state) error {
		for _, u := range st.users {
			if u.Email == email {
				u := u
				out = &u
				return nil
			}
		}
		return fmt.Errorf("user: %w", store.ErrNotFound)
	})
	return out, err
}

func (r *users) SetVerified(_ context.Context, id uuid.UUID) error {
	return r.update("users.verify", id, func(u *models.User) { u.IsVerified = true })
}

func (r *users) SetPassword(_ context.Context, id uuid.UUID, hash string) error {
	return r.update("users.password", id, func(u *models.User) { u.PasswordHash = hash })
}

func (r *users) update(op string, id uuid.UUID, fn func(*models.User)) error {
	return r.h.do(op, func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return fmt.Errorf("update user: %w", store.ErrNotFound)
		}
		fn(&u)
		u.UpdatedAt = now()
		st.users[id] = u
		return nil
	})
}

func (r *users) AddTenant(_ context.Context, userID, tenantID uuid.UUID) error {
	return r.h.do("users.addTenant", func(st *state) error {
		if _, ok := st.users[userID]; !ok {
			return fmt.Errorf("add tenant membership: %w", store.ErrNotFound)
		}
		if _, ok := st.tenants[tenantID]; !ok {
			return fmt.Errorf("add tenant membership: %w", store.ErrNotFound)
		}
		if st.memberships[userID] == nil {
			st.memberships[userID] = map[uuid.UUID]bool{}
		}
		st.memberships[userID][tenantID] = true
		return nil
	})
}

func (r *users) IsMember(_ context.Context, userID, tenantID uuid.UUID) (bool, error) {
	var ok bool
	err := r.h.do("users.isMember", func(st *state) error {
		ok = st.memberships[userID][tenantID]
		return nil
	})
	return ok, err
}

func (r *users) ListTenants(_ context.Context, userID uuid.UUID) ([]models.Tenant, error) {
	out := []models.Tenant{}
	err := r.h.do("users.listTenants", func(st *state) error {
		for _, id := range st.tenantOrder {
			if st.memberships[userID][id] {
				out = append(out, st.tenants[id])
			}
		}
		return nil
	})
	return out, err
}

type tenants struct{ h handle }

func (r *tenants) Create(_ context.Context, t *models.Tenant) error {
	return r.h.do("tenants.create", func(st *state) error {
		t.SchemaName = strings.ToLower(t.SchemaName)
		for _, existing := range st.tenants {
			if existing.SchemaName == t.SchemaName || existing.Name == t.Name {
				return fmt.Errorf("create tenant: %w", store.ErrConflict)
			}
		}
		if t.ID == uuid.Nil {
			t.ID = uuid.New()
		}
		if t.Status == "" {
			t.Status = models.TenantStatusActive
		}
		t.AdminEmail = strings.ToLower(t.AdminEmail)
		t.CreatedAt, t.UpdatedAt = now(), now()
		st.tenants[t.ID] = *t
		st.tenantOrder = append(st.tenantOrder, t.ID)
		return nil
	})
}

func (r *tenants) GetByID(_ context.Context, id uuid.UUID) (*models.Tenant, error) {
	var out *models.Tenant
	err := r.h.do("tenants.get", func(st *state) error {
		t, ok := st.tenants[id]
		if !ok {
			return fmt.Errorf("tenant: %w", store.ErrNotFound)
		}
		out = &t
		return nil
	})
	return out, err
}

func (r *tenants) GetBySchema(_ context.Context, schema string) (*models.Tenant, error) {
	schema = strings.ToLower(schema)
	var out *models.Tenant
	err := r.h.do("tenants.get", func(st *state) error {
		for _, t := range st.tenants {
			if t.SchemaName == schema {
				t := t
				out = &t
				return nil
			}
		}
		return fmt.Errorf("tenant: %w", store.ErrNotFound)
	})
	return out, err
}

type invitations struct{ h handle }

func (r *invitations) Create(_ context.Context, inv *models.Invitation) error {
	return r.h.do("invitations.create", func(st *state) error {
		inv.Email = strings.ToLower(inv.Email)
		for _, existing := range st.invitations {
			if existing.TenantID == inv.TenantID && existing.Email == inv.Email {
				return fmt.Errorf("create invitation: %w", store.ErrConflict)
			}
			if !existing.IsAccepted && !inv.IsAccepted && existing.Token == inv.Token {
				return fmt.Errorf("create invitation: %w", store.ErrTokenTaken)
			}
		}
		inv.ID = st.id()
		inv.CreatedAt = now()
		st.invitations = append(st.invitations, *inv)
		return nil
	})
}

func (r *invitations) Exists(_ context.Context, tenantID uuid.UUID, email string) (bool, error) {
	email = strings.ToLower(email)
	var found bool
	err := r.h.do("invitations.exists", func(st *state) error {
		for _, inv := range st.invitations {
			if inv.TenantID == tenantID && inv.Email == email {
				found = true
				break
			}
		}
		return nil
	})
	return found, err
}

func (r *invitations) FindForUpdate(_ context.Context, token, email string) (*models.Invitation, error) {
	email = strings.ToLower(email)
	var out *models.Invitation
	err := r.h.do("invitations.find", func(st *state) error {
		// pending first, newest first; same order as the SQL implementation
		for i := len(st.invitations) - 1; i >= 0; i-- {
			inv := st.invitations[i]
			if inv.Token != token || (email != "" && inv.Email != email) {
				continue
			}
			if out == nil || (out.IsAccepted && !inv.IsAccepted) {
				inv := inv
				out = &inv
			}
		}
		if out == nil {
			return fmt.Errorf("invitation: %w", store.ErrNotFound)
		}
		return nil
	})
	return out, err
}

func (r *invitations) MarkAccepted(_ context.Context, id int64, at time.Time) error {
	return r.h.do("invitations.accept", func(st *state) error {
		for i := range st.invitations {
			if st.invitations[i].ID == id && !st.invitations[i].IsAccepted {
				st.invitations[i].Accept(at)
				return nil
			}
		}
		return fmt.Errorf("accept invitation: %w", store.ErrNotFound)
	})
}

func (r *invitations) ListPending(_ context.Context, email string) ([]models.Invitation, error) {
	email = strings.ToLower(email)
	out := []models.Invitation{}
	err := r.h.do("invitations.listPending", func(st *state) error {
		for i := len(st.invitations) - 1; i >= 0; i-- {
			if inv := st.invitations[i]; inv.Email == email && !inv.IsAccepted {
				out = append(out, inv)
			}
		}
		return nil
	})
	return out, err
}

type permissions struct{ h handle }

func (r *permissions) List(_ context.Context) ([]models.Permission, error) {
	return r.filter(func(models.Permission) bool { return true })
}

func (r *permissions) GetByCodenames(_ context.Context, codenames []string) ([]models.Permission, error) {
	want := make(map[string]bool, len(codenames))
	for _, c := range codenames {
		want[c] = true
	}
	return r.filter(func(p models.Permission) bool { return want[p.Codename] })
}

func (r *permissions) GetByIDs(_ context.Context, ids []int64) ([]models.Permission, error) {
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	return r.filter(func(p models.Permission) bool { return want[p.ID] })
}

func (r *permissions) filter(keep func(models.Permission) bool) ([]models.Permission, error) {
	out := []models.Permission{}
	err := r.h.do("permissions.list", func(st *state) error {
		for _, p := range st.permissions {
			if keep(p) {
				out = append(out, p)
			}
		}
		return nil
	})
	return out, err
}

type auditLogs struct{ h handle }

func (r *auditLogs) Insert(_ context.Context, e *models.AuditLog) error {
	return r.h.do("audit.insert", func(st *state) error {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		if len(e.Details) == 0 {
			e.Details = []byte("{}")
		}
		e.CreatedAt = now()
		st.audit = append(st.audit, *e)
		return nil
	})
}

func (r *auditLogs) List(_ context.Context, tenantID uuid.UUID, q store.AuditQuery) ([]models.AuditLog, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	var matched []models.AuditLog
	err := r.h.do("audit.list", func(st *state) error {
		for i := len(st.audit) - 1; i >= 0; i-- {
			l := st.audit[i]
			if l.TenantID == nil || *l.TenantID != tenantID {
				continue
			}
			if q.Action != "" && l.Action != q.Action {
				continue
			}
			if q.StartDate != nil && l.CreatedAt.Before(*q.StartDate) {
				continue
			}
			if q.EndDate != nil && l.CreatedAt.After(*q.EndDate) {
				continue
			}
			matched = append(matched, l)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := []models.AuditLog{}
	for i := q.Offset; i < len(matched) && len(out) < q.Limit; i++ {
		out = append(out, matched[i])
	}
	return out, nil
}
