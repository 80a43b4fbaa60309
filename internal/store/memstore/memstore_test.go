package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nikhilbhutani/tenantkit/internal/models"
	"github.com/nikhilbhutani/tenantkit/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedTenant(t *testing.T, s *Store, schema string) *models.Tenant {
	t.Helper()
	ctx := context.Background()
	tn := &models.Tenant{SchemaName: schema, Name: schema, AdminEmail: "owner@x.com"}
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		if err := tx.Tenants().Create(ctx, tn); err != nil {
			return err
		}
		return tx.ProvisionSchema(ctx, schema)
	}))
	return tn
}

func TestInTxRollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx store.Tx) error {
		tn := &models.Tenant{SchemaName: "acme", Name: "Acme", AdminEmail: "a@x.com"}
		if err := tx.Tenants().Create(ctx, tn); err != nil {
			return err
		}
		if err := tx.ProvisionSchema(ctx, "acme"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.Tenants().GetBySchema(ctx, "acme")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.Roles("acme").ListRoles(ctx)
	assert.Error(t, err)
}

func TestFailOn(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	s.FailOn("users.create", boom)
	err := s.Users().Create(ctx, &models.User{Email: "a@x.com"})
	assert.ErrorIs(t, err, boom)

	s.FailOn("users.create", nil)
	assert.NoError(t, s.Users().Create(ctx, &models.User{Email: "a@x.com"}))
}

func TestUsersLowercaseAndConflict(t *testing.T) {
	s := New()
	ctx := context.Background()

	u := &models.User{Email: "Alice@X.com"}
	require.NoError(t, s.Users().Create(ctx, u))
	assert.Equal(t, "alice@x.com", u.Email)

	err := s.Users().Create(ctx, &models.User{Email: "ALICE@x.com"})
	assert.ErrorIs(t, err, store.ErrConflict)

	got, err := s.Users().GetByEmail(ctx, "alice@X.COM")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
}

func TestInvitationsPendingTokenAndLookup(t *testing.T) {
	s := New()
	ctx := context.Background()
	acme := seedTenant(t, s, "acme")
	globex := seedTenant(t, s, "globex")

	first := &models.Invitation{TenantID: acme.ID, Email: "bob@x.com", Token: "111111"}
	require.NoError(t, s.Invitations().Create(ctx, first))

	err := s.Invitations().Create(ctx, &models.Invitation{TenantID: acme.ID, Email: "BOB@x.com", Token: "222222"})
	assert.ErrorIs(t, err, store.ErrConflict)

	err = s.Invitations().Create(ctx, &models.Invitation{TenantID: globex.ID, Email: "carol@x.com", Token: "111111"})
	assert.ErrorIs(t, err, store.ErrTokenTaken)

	require.NoError(t, s.Invitations().MarkAccepted(ctx, first.ID, time.Now()))
	assert.ErrorIs(t, s.Invitations().MarkAccepted(ctx, first.ID, time.Now()), store.ErrNotFound)

	second := &models.Invitation{TenantID: globex.ID, Email: "carol@x.com", Token: "111111"}
	require.NoError(t, s.Invitations().Create(ctx, second))

	got, err := s.Invitations().FindForUpdate(ctx, "111111", "")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID, "pending invitation wins")

	got, err = s.Invitations().FindForUpdate(ctx, "111111", "bob@x.com")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.True(t, got.IsAccepted)

	_, err = s.Invitations().FindForUpdate(ctx, "999999", "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRolesIsolatedPerSchema(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedTenant(t, s, "acme")
	seedTenant(t, s, "globex")

	u := &models.User{Email: "alice@x.com"}
	require.NoError(t, s.Users().Create(ctx, u))

	role, err := s.Roles("acme").EnsureRole(ctx, models.RoleTenantAdmin)
	require.NoError(t, err)
	require.NoError(t, s.Roles("acme").GrantPermissions(ctx, role.ID, []int64{1, 2}))
	require.NoError(t, s.Roles("acme").AssignRoles(ctx, u.ID, []int64{role.ID}))

	again, err := s.Roles("acme").EnsureRole(ctx, models.RoleTenantAdmin)
	require.NoError(t, err)
	assert.Equal(t, role.ID, again.ID)
	assert.Len(t, again.Permissions, 2)

	ok, err := s.Roles("acme").HasAnyRole(ctx, u.ID, []string{models.RoleTenantAdmin})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Roles("globex").HasAnyRole(ctx, u.ID, []string{models.RoleTenantAdmin})
	require.NoError(t, err)
	assert.False(t, ok)

	globexRoles, err := s.Roles("globex").ListRoles(ctx)
	require.NoError(t, err)
	assert.Empty(t, globexRoles)

	err = s.Roles("globex").AssignRoles(ctx, u.ID, []int64{role.ID})
	assert.Error(t, err, "role ids of another schema are unknown here")
}

func TestHasAnyPermissionCountsDirectGrants(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedTenant(t, s, "acme")

	u := &models.User{Email: "alice@x.com"}
	require.NoError(t, s.Users().Create(ctx, u))

	ok, err := s.Roles("acme").HasAnyPermission(ctx, u.ID, []string{"view_role"})
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Roles("acme").SetUserPermissions(ctx, u.ID, []int64{3}))

	ok, err = s.Roles("acme").HasAnyPermission(ctx, u.ID, []string{"view_role"})
	require.NoError(t, err)
	assert.True(t, ok)

	listed, err := s.Roles("acme").ListUserPermissions(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "view_role", listed[0].Permissions[0].Codename)
}
