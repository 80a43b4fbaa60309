package tenant

import (
	"context"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/tenantkit/internal/models"
	"github.com/nikhilbhutani/tenantkit/internal/store"
)

type contextKey string

const (
	tenantKey contextKey = "tenant"
	userKey   contextKey = "user"
)

func WithTenant(ctx context.Context, t *models.Tenant) context.Context {
	return context.WithValue(ctx, tenantKey, t)
}

// FromContext returns the tenant bound by the resolver, or nil when the
// request runs on the shared schema.
func FromContext(ctx context.Context) *models.Tenant {
	t, _ := ctx.Value(tenantKey).(*models.Tenant)
	return t
}

func IDFromContext(ctx context.Context) uuid.UUID {
	if t := FromContext(ctx); t != nil {
		return t.ID
	}
	return uuid.Nil
}

func WithUser(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

func UserFromContext(ctx context.Context) *models.User {
	u, _ := ctx.Value(userKey).(*models.User)
	return u
}

// Roles returns the RBAC repository of the tenant bound to ctx. Request code
// reaches tenant-scoped tables only through it; tenant bootstrap, which runs
// before any tenant is bound, is the one caller that names a schema itself.
func Roles(ctx context.Context, repos store.Repos) (store.Roles, bool) {
	t := FromContext(ctx)
	if t == nil {
		return nil, false
	}
	return repos.Roles(t.SchemaName), true
}
