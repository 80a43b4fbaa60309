package tenant

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nikhilbhutani/tenantkit/internal/config"
	"github.com/nikhilbhutani/tenantkit/internal/respond"
	"github.com/nikhilbhutani/tenantkit/internal/store"
)

const notFoundMessage = "Tenant not found"

// Resolver binds the tenant named by the tenant header to each request.
type Resolver struct {
	tenants       store.Tenants
	header        string
	defaultSchema string
}

func NewResolver(tenants store.Tenants, cfg config.TenantConfig) *Resolver {
	return &Resolver{
		tenants:       tenants,
		header:        cfg.Header,
		defaultSchema: strings.ToLower(cfg.DefaultSchema),
	}
}

// Middleware resolves the tenant before any handler runs. An unknown
// identifier stops the request with 400, except the default one, which
// leaves the request on the shared schema with no tenant bound.
func (res *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.ToLower(strings.TrimSpace(r.Header.Get(res.header)))
		if id == "" {
			id = res.defaultSchema
		}

		t, err := res.tenants.GetBySchema(r.Context(), id)
		switch {
		case err == nil:
			next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), t)))
		case !errors.Is(err, store.ErrNotFound):
			slog.ErrorContext(r.Context(), "resolve tenant", "tenant", id, "error", err)
			respond.Detail(w, http.StatusInternalServerError, "internal server error")
		case id == res.defaultSchema:
			next.ServeHTTP(w, r)
		default:
			respond.Detail(w, http.StatusBadRequest, notFoundMessage)
		}
	})
}

// Require rejects requests that reached a tenant-scoped route without a
// bound tenant.
func Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if FromContext(r.Context()) == nil {
			respond.Detail(w, http.StatusNotFound, notFoundMessage)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireMember rejects authenticated users that do not belong to the bound
// tenant. It must run after Require and after authentication.
func RequireMember(users store.Users) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			u := UserFromContext(ctx)
			t := FromContext(ctx)
			if u == nil || t == nil {
				respond.Detail(w, http.StatusForbidden, "You do not have permission to perform this action.")
				return
			}

			ok, err := users.IsMember(ctx, u.ID, t.ID)
			if err != nil {
				slog.ErrorContext(ctx, "check tenant membership", "error", err)
				respond.Detail(w, http.StatusInternalServerError, "internal server error")
				return
			}
			if !ok {
				respond.Detail(w, http.StatusForbidden, "You are not a member of this tenant")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
