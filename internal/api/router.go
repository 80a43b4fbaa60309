package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/nikhilbhutani/tenantkit/internal/account"
	"github.com/nikhilbhutani/tenantkit/internal/api/handlers"
	"github.com/nikhilbhutani/tenantkit/internal/api/middleware"
	"github.com/nikhilbhutani/tenantkit/internal/audit"
	"github.com/nikhilbhutani/tenantkit/internal/auth"
	"github.com/nikhilbhutani/tenantkit/internal/cache"
	"github.com/nikhilbhutani/tenantkit/internal/config"
	"github.com/nikhilbhutani/tenantkit/internal/invitation"
	"github.com/nikhilbhutani/tenantkit/internal/models"
	"github.com/nikhilbhutani/tenantkit/internal/observability"
	"github.com/nikhilbhutani/tenantkit/internal/permissions"
	"github.com/nikhilbhutani/tenantkit/internal/respond"
	"github.com/nikhilbhutani/tenantkit/internal/store"
	"github.com/nikhilbhutani/tenantkit/internal/tenant"
)

// Deps are the process-wide collaborators the router wires into handlers.
type Deps struct {
	Config    *config.Config
	Store     store.Store
	Cache     *cache.Cache
	Mailer    account.Mailer
	Jobs      handlers.DemoEnqueuer
	JobStatus handlers.JobStatusReader
}

type Router struct {
	mux      *chi.Mux
	deps     Deps
	cfg      *config.Config
	resolver *tenant.Resolver
	issuer    *auth.Issuer
	blacklist *auth.Blacklist
	jwt       *auth.JWTMiddleware
	rbac     *auth.RBAC
	limiter  *middleware.RateLimiter
}

func NewRouter(deps Deps) *Router {
	cfg := deps.Config
	issuer := auth.NewIssuer(cfg.Auth)
	blacklist := auth.NewBlacklist(deps.Cache)
	return &Router{
		mux:       chi.NewRouter(),
		deps:      deps,
		cfg:       cfg,
		resolver:  tenant.NewResolver(deps.Store.Tenants(), cfg.Tenant),
		issuer:    issuer,
		blacklist: blacklist,
		jwt:       auth.NewJWTMiddleware(issuer, deps.Store.Users(), blacklist),
		rbac:      auth.NewRBAC(deps.Store),
		limiter:   middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
	}
}

// Limiter exposes the rate limiter so the caller can run its eviction loop.
func (rt *Router) Limiter() *middleware.RateLimiter {
	return rt.limiter
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux
	cfg := rt.cfg
	s := rt.deps.Store

	// Global middleware. Nothing here touches storage; the tenant resolver
	// wraps only the application routes below.
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(cfg.Tenant.Header))
	r.Use(chimiddleware.Recoverer)
	r.Use(observability.Middleware)
	r.Use(middleware.CORS(cfg.CORS.AllowedOrigins, cfg.Tenant.Header))
	if cfg.RateLimit.RPS > 0 {
		r.Use(rt.limiter.Limit)
	}
	if cfg.Server.RequestTimeout > 0 {
		r.Use(chimiddleware.Timeout(cfg.Server.RequestTimeout))
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respond.Detail(w, http.StatusNotFound, "Not found.")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respond.Detail(w, http.StatusMethodNotAllowed, "Method \""+r.Method+"\" not allowed.")
	})

	checks := map[string]handlers.Pinger{"database": s}
	if rt.deps.Cache != nil {
		checks["redis"] = rt.deps.Cache
	}
	health := handlers.NewHealthHandler(checks)
	r.Get("/api/health/", health.Health)
	r.Get("/readyz", health.Readyz)
	r.Handle("/metrics", observability.Handler())

	r.Group(func(r chi.Router) {
		r.Use(rt.resolver.Middleware)
		rt.mountAPI(r)
	})

	return r
}

func (rt *Router) mountAPI(r chi.Router) {
	cfg := rt.cfg
	s := rt.deps.Store

	auditSvc := audit.NewService(s.AuditLogs())
	accounts := account.NewService(s, rt.issuer, rt.blacklist, rt.deps.Mailer, cfg.Auth)
	invitations := invitation.NewService(s, rt.deps.Mailer, auditSvc, cfg.Auth)
	perms := permissions.NewService(s)

	member := tenant.RequireMember(s.Users())
	tenantAdmin := rt.rbac.RequireRole(models.RoleTenantAdmin)

	authH := handlers.NewAuthHandler(accounts, cfg.Auth.AppScheme)
	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/create-account/", authH.Register)
		r.Get("/email-verify/", authH.VerifyEmail)
		r.Post("/login/", authH.Login)
		r.Post("/token/refresh/", authH.Refresh)
		r.Post("/request-reset-email/", authH.RequestPasswordReset)
		r.Get("/password-reset/{uidb64}/{token}/", authH.CheckResetToken)
		r.Patch("/password-reset-complete", authH.CompletePasswordReset)
		r.With(rt.jwt.Authenticate).Post("/logout/", authH.Logout)
	})

	tenantH := handlers.NewTenantHandler(invitations, cfg.Auth.AppScheme)
	adminH := handlers.NewAdminHandler(auditSvc)
	r.Route("/api/tenants", func(r chi.Router) {
		r.Get("/invite/accept/{token}/", tenantH.Accept)

		r.Group(func(r chi.Router) {
			r.Use(rt.jwt.Authenticate)
			r.Get("/", tenantH.List)
			r.Post("/", tenantH.Create)
			r.Get("/invite/pending", tenantH.Pending)
			r.Patch("/invite/accept/manual/{token}/", tenantH.AcceptManual)

			r.Group(func(r chi.Router) {
				r.Use(tenant.Require, member)
				r.Post("/invite/", tenantH.Invite)
				r.With(tenantAdmin).Get("/audit/", adminH.AuditLogs)
			})
		})
	})

	permH := handlers.NewPermissionHandler(perms)
	r.Route("/api/permissions", func(r chi.Router) {
		r.Use(rt.jwt.Authenticate)
		r.Get("/", permH.Catalog)

		r.Group(func(r chi.Router) {
			r.Use(tenant.Require, member)
			r.Get("/me/", permH.Me)

			r.Group(func(r chi.Router) {
				r.Use(tenantAdmin)
				r.Get("/roles/", permH.ListRoles)
				r.Post("/roles/", permH.SaveRole)
				r.Get("/user-roles/", permH.ListUserRoles)
				r.Post("/user-roles/", permH.SetUserRoles)
				r.Get("/user-permissions/", permH.ListUserPermissions)
				r.Post("/user-permissions/", permH.SetUserPermissions)
			})
		})
	})

	jobH := handlers.NewJobHandler(rt.deps.Jobs, rt.deps.JobStatus)
	r.Route("/demo", func(r chi.Router) {
		r.Get("/trigger/{type}/", jobH.Trigger)
		r.Get("/status/{taskID}/", jobH.Status)
	})
}
