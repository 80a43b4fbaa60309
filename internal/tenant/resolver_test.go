package tenant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nikhilbhutani/tenantkit/internal/config"
	"github.com/nikhilbhutani/tenantkit/internal/models"
	"github.com/nikhilbhutani/tenantkit/internal/store"
	"github.com/nikhilbhutani/tenantkit/internal/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCfg = config.TenantConfig{Header: "X-Tenant-ID", DefaultSchema: "public"}

func newAcme(t *testing.T) (*memstore.Store, *models.Tenant) {
	t.Helper()
	s := memstore.New()
	acme := &models.Tenant{SchemaName: "acme", Name: "Acme", AdminEmail: "alice@x.com"}
	require.NoError(t, s.Tenants().Create(context.Background(), acme))
	return s, acme
}

// echoTenant answers with the bound schema name, or "" when none.
var echoTenant = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	name := ""
	if t := FromContext(r.Context()); t != nil {
		name = t.SchemaName
	}
	w.Write([]byte(name))
})

func serve(h http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("X-Tenant-ID", header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestResolverBindsTenantCaseInsensitively(t *testing.T) {
	s, _ := newAcme(t)
	h := NewResolver(s.Tenants(), testCfg).Middleware(echoTenant)

	rec := serve(h, "ACME")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acme", rec.Body.String())
}

func TestResolverUnknownTenantIsHardStop(t *testing.T) {
	s, _ := newAcme(t)
	h := NewResolver(s.Tenants(), testCfg).Middleware(echoTenant)

	rec := serve(h, "globex")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Tenant not found", body["detail"])
}

func TestResolverDefaultFallsBackToSharedSchema(t *testing.T) {
	s, _ := newAcme(t)
	h := NewResolver(s.Tenants(), testCfg).Middleware(echoTenant)

	for _, header := range []string{"", "public", "PUBLIC"} {
		rec := serve(h, header)
		assert.Equal(t, http.StatusOK, rec.Code, header)
		assert.Empty(t, rec.Body.String(), header)
	}
}

func TestRequireRejectsUnboundRequests(t *testing.T) {
	s, _ := newAcme(t)
	h := NewResolver(s.Tenants(), testCfg).Middleware(Require(echoTenant))

	assert.Equal(t, http.StatusNotFound, serve(h, "").Code)
	assert.Equal(t, http.StatusOK, serve(h, "acme").Code)
}

func TestRequireMember(t *testing.T) {
	s, acme := newAcme(t)
	ctx := context.Background()

	member := &models.User{Email: "alice@x.com"}
	outsider := &models.User{Email: "eve@x.com"}
	require.NoError(t, s.Users().Create(ctx, member))
	require.NoError(t, s.Users().Create(ctx, outsider))
	require.NoError(t, s.Users().AddTenant(ctx, member.ID, acme.ID))

	h := RequireMember(s.Users())(echoTenant)

	run := func(u *models.User) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rctx := WithTenant(req.Context(), acme)
		if u != nil {
			rctx = WithUser(rctx, u)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req.WithContext(rctx))
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, run(member))
	assert.Equal(t, http.StatusForbidden, run(outsider))
	assert.Equal(t, http.StatusForbidden, run(nil))
}

func TestRolesFollowsBoundTenant(t *testing.T) {
	s, acme := newAcme(t)

	_, ok := Roles(context.Background(), s)
	assert.False(t, ok)

	roles, ok := Roles(WithTenant(context.Background(), acme), store.Repos(s))
	require.True(t, ok)
	assert.Equal(t, "acme", roles.Schema())
}
