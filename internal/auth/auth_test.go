package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nikhilbhutani/tenantkit/internal/cache"
	"github.com/nikhilbhutani/tenantkit/internal/models"
	"github.com/nikhilbhutani/tenantkit/internal/store"
	"github.com/nikhilbhutani/tenantkit/internal/store/memstore"
	"github.com/nikhilbhutani/tenantkit/internal/tenant"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndCheckPassword(t *testing.T) {
	_, err := HashPassword("short")
	assert.ErrorIs(t, err, ErrPasswordTooShort)

	hash, err := HashPassword("pw123456")
	require.NoError(t, err)

	ok, err := CheckPassword(hash, "pw123456")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = CheckPassword(hash, "wrong-password")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = CheckPassword("not-a-hash", "pw123456")
	assert.Error(t, err)
}

func TestBlacklist(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	bl := NewBlacklist(cache.NewCache(client, "test:"))
	ctx := context.Background()

	iss := NewIssuer(testAuthConfig)
	pair, err := iss.IssuePair(testUser())
	require.NoError(t, err)
	claims, err := iss.Parse(pair.Refresh, TokenRefresh)
	require.NoError(t, err)

	revoked, err := bl.IsRevoked(ctx, claims)
	require.NoError(t, err)
	assert.False(t, revoked)

	first, err := bl.Consume(ctx, claims)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := bl.Consume(ctx, claims)
	require.NoError(t, err)
	assert.False(t, second)

	revoked, err = bl.IsRevoked(ctx, claims)
	require.NoError(t, err)
	assert.True(t, revoked)

	// entries live exactly as long as the token
	mr.FastForward(testAuthConfig.RefreshTokenTTL + time.Minute)
	revoked, err = bl.IsRevoked(ctx, claims)
	require.NoError(t, err)
	assert.False(t, revoked)
}

type fixture struct {
	store  *memstore.Store
	issuer *Issuer
	user   *models.User
	acme   *models.Tenant
	globex *models.Tenant
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := memstore.New()

	f := &fixture{
		store:  s,
		issuer: NewIssuer(testAuthConfig),
		user:   &models.User{Email: "alice@x.com", IsActive: true, IsVerified: true},
		acme:   &models.Tenant{SchemaName: "acme", Name: "Acme", AdminEmail: "alice@x.com"},
		globex: &models.Tenant{SchemaName: "globex", Name: "Globex", AdminEmail: "bob@x.com"},
	}
	require.NoError(t, s.Users().Create(ctx, f.user))
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		for _, tn := range []*models.Tenant{f.acme, f.globex} {
			if err := tx.Tenants().Create(ctx, tn); err != nil {
				return err
			}
			if err := tx.ProvisionSchema(ctx, tn.SchemaName); err != nil {
				return err
			}
		}
		role, err := tx.Roles("acme").EnsureRole(ctx, models.RoleTenantAdmin)
		if err != nil {
			return err
		}
		if err := tx.Roles("acme").GrantPermissions(ctx, role.ID, []int64{1, 2}); err != nil {
			return err
		}
		return tx.Roles("acme").AssignRoles(ctx, f.user.ID, []int64{role.ID})
	}))
	return f
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	bl := NewBlacklist(cache.NewCache(client, "test:"))
	mw := NewJWTMiddleware(f.issuer, f.store.Users(), bl)

	var seen *models.User
	h := mw.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = tenant.UserFromContext(r.Context())
		assert.NotNil(t, ClaimsFromContext(r.Context()))
	}))

	pair, err := f.issuer.IssuePair(f.user)
	require.NoError(t, err)

	call := func(header string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, call(""))
	assert.Equal(t, http.StatusUnauthorized, call("Bearer garbage"))
	assert.Equal(t, http.StatusUnauthorized, call("Bearer "+pair.Refresh))

	assert.Equal(t, http.StatusOK, call("Bearer "+pair.Access))
	require.NotNil(t, seen)
	assert.Equal(t, f.user.ID, seen.ID)

	claims, err := f.issuer.Parse(pair.Access, TokenAccess)
	require.NoError(t, err)
	require.NoError(t, bl.Revoke(context.Background(), claims))
	assert.Equal(t, http.StatusUnauthorized, call("Bearer "+pair.Access), "revoked access token")

	mr.SetError("LOADING")
	fresh, err := f.issuer.IssuePair(f.user)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, call("Bearer "+fresh.Access), "blacklist unreachable")
}

func TestRBACChecksBoundTenantOnly(t *testing.T) {
	f := newFixture(t)
	rbac := NewRBAC(f.store)

	acmeCtx := tenant.WithTenant(context.Background(), f.acme)
	globexCtx := tenant.WithTenant(context.Background(), f.globex)

	ok, err := rbac.HasRole(acmeCtx, f.user, models.RoleTenantAdmin)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = rbac.HasRole(globexCtx, f.user, models.RoleTenantAdmin)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rbac.HasRole(context.Background(), f.user, models.RoleTenantAdmin)
	require.NoError(t, err)
	assert.False(t, ok, "no tenant bound")

	ok, err = rbac.HasPermission(acmeCtx, f.user, models.PermInviteUsers)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = rbac.HasPermission(acmeCtx, f.user, "change_user_roles")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRequireRole(t *testing.T) {
	f := newFixture(t)
	h := NewRBAC(f.store).RequireRole(models.RoleTenantAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	call := func(ctx context.Context) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	withUser := func(tn *models.Tenant) context.Context {
		return tenant.WithUser(tenant.WithTenant(context.Background(), tn), f.user)
	}

	assert.Equal(t, http.StatusUnauthorized, call(context.Background()))
	assert.Equal(t, http.StatusOK, call(withUser(f.acme)))
	assert.Equal(t, http.StatusForbidden, call(withUser(f.globex)))
}
