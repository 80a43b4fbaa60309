package auth

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/nikhilbhutani/tenantkit/internal/models"
	"github.com/nikhilbhutani/tenantkit/internal/respond"
	"github.com/nikhilbhutani/tenantkit/internal/store"
	"github.com/nikhilbhutani/tenantkit/internal/tenant"
)

const permissionDenied = "You do not have permission to perform this action."

// RBAC answers role and permission questions against the tenant schema
// bound to the request context. The tenant is never passed explicitly.
type RBAC struct {
	repos store.Repos
}

func NewRBAC(repos store.Repos) *RBAC {
	return &RBAC{repos: repos}
}

// HasRole reports whether u holds at least one of names in the bound
// tenant. Without a bound tenant the answer is false.
func (r *RBAC) HasRole(ctx context.Context, u *models.User, names ...string) (bool, error) {
	roles, ok := tenant.Roles(ctx, r.repos)
	if !ok || u == nil || len(names) == 0 {
		return false, nil
	}
	return roles.HasAnyRole(ctx, u.ID, names)
}

// HasPermission reports whether u holds at least one of codenames through a
// role or a direct grant in the bound tenant.
func (r *RBAC) HasPermission(ctx context.Context, u *models.User, codenames ...string) (bool, error) {
	roles, ok := tenant.Roles(ctx, r.repos)
	if !ok || u == nil || len(codenames) == 0 {
		return false, nil
	}
	return roles.HasAnyPermission(ctx, u.ID, codenames)
}

func (r *RBAC) RequireRole(names ...string) func(http.Handler) http.Handler {
	return r.require(func(ctx context.Context, u *models.User) (bool, error) {
		return r.HasRole(ctx, u, names...)
	})
}

func (r *RBAC) RequirePermission(codenames ...string) func(http.Handler) http.Handler {
	return r.require(func(ctx context.Context, u *models.User) (bool, error) {
		return r.HasPermission(ctx, u, codenames...)
	})
}

func (r *RBAC) require(check func(context.Context, *models.User) (bool, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := req.Context()
			user := tenant.UserFromContext(ctx)
			if user == nil {
				respond.Detail(w, http.StatusUnauthorized, "Authentication credentials were not provided.")
				return
			}

			has, err := check(ctx, user)
			if err != nil {
				slog.ErrorContext(ctx, "permission check failed", "user_id", user.ID, "error", err)
				respond.Detail(w, http.StatusInternalServerError, "permission check failed")
				return
			}
			if !has {
				respond.Detail(w, http.StatusForbidden, permissionDenied)
				return
			}

			next.ServeHTTP(w, req)
		})
	}
}
