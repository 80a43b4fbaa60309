package permissions

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/tenantkit/internal/models"
	"github.com/nikhilbhutani/tenantkit/internal/store"
	"github.com/nikhilbhutani/tenantkit/internal/store/memstore"
	"github.com/nikhilbhutani/tenantkit/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc   *Service
	store *memstore.Store
	ctx   context.Context
	acme  *models.Tenant
	alice *models.User
	bob   *models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := memstore.New()
	ctx := context.Background()
	f := &fixture{
		svc:   NewService(s),
		store: s,
		acme:  &models.Tenant{SchemaName: "acme", Name: "Acme"},
		alice: &models.User{Email: "alice@x.com"},
		bob:   &models.User{Email: "bob@x.com"},
	}
	require.NoError(t, s.Users().Create(ctx, f.alice))
	require.NoError(t, s.Users().Create(ctx, f.bob))
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		if err := tx.Tenants().Create(ctx, f.acme); err != nil {
			return err
		}
		if err := tx.ProvisionSchema(ctx, "acme"); err != nil {
			return err
		}
		if err := tx.Users().AddTenant(ctx, f.alice.ID, f.acme.ID); err != nil {
			return err
		}
		return tx.Users().AddTenant(ctx, f.bob.ID, f.acme.ID)
	}))
	f.ctx = tenant.WithTenant(ctx, f.acme)
	return f
}

func TestCatalog(t *testing.T) {
	f := newFixture(t)
	perms, err := f.svc.Catalog(context.Background())
	require.NoError(t, err)
	assert.Equal(t, memstore.DefaultPermissions, perms)
}

func TestRequiresBoundTenant(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ListRoles(context.Background())
	assert.ErrorIs(t, err, ErrNoTenant)
	_, err = f.svc.Me(context.Background(), f.alice)
	assert.ErrorIs(t, err, ErrNoTenant)
}

func TestSaveRoleUpserts(t *testing.T) {
	f := newFixture(t)

	role, err := f.svc.SaveRole(f.ctx, RoleInput{Name: "EDITOR", Permissions: []int64{3, 3, 4}})
	require.NoError(t, err)
	assert.Equal(t, "EDITOR", role.Name)
	assert.Len(t, role.Permissions, 2)

	again, err := f.svc.SaveRole(f.ctx, RoleInput{Name: "EDITOR", Permissions: []int64{5}})
	require.NoError(t, err)
	assert.Equal(t, role.ID, again.ID)
	require.Len(t, again.Permissions, 1)
	assert.Equal(t, "change_role", again.Permissions[0].Codename)

	roles, err := f.svc.ListRoles(f.ctx)
	require.NoError(t, err)
	assert.Len(t, roles, 1)

	_, err = f.svc.SaveRole(f.ctx, RoleInput{Name: "BROKEN", Permissions: []int64{99}})
	assert.ErrorIs(t, err, ErrUnknownPermission)
	roles, err = f.svc.ListRoles(f.ctx)
	require.NoError(t, err)
	assert.Len(t, roles, 1, "failed save must not leave a role behind")

	_, err = f.svc.SaveRole(f.ctx, RoleInput{})
	assert.Error(t, err)
}

func TestSetUserRoles(t *testing.T) {
	f := newFixture(t)
	editor, err := f.svc.SaveRole(f.ctx, RoleInput{Name: "EDITOR", Permissions: []int64{3}})
	require.NoError(t, err)

	got, err := f.svc.SetUserRoles(f.ctx, UserRolesInput{UserID: f.bob.ID, Roles: []int64{editor.ID}})
	require.NoError(t, err)
	require.Len(t, got.Roles, 1)

	list, err := f.svc.ListUserRoles(f.ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, f.bob.ID, list[0].UserID)

	_, err = f.svc.SetUserRoles(f.ctx, UserRolesInput{UserID: f.bob.ID, Roles: []int64{editor.ID, 4242}})
	assert.ErrorIs(t, err, ErrUnknownRole)

	_, err = f.svc.SetUserRoles(f.ctx, UserRolesInput{UserID: uuid.New(), Roles: []int64{editor.ID}})
	assert.ErrorIs(t, err, ErrNotMember)

	cleared, err := f.svc.SetUserRoles(f.ctx, UserRolesInput{UserID: f.bob.ID})
	require.NoError(t, err)
	assert.Empty(t, cleared.Roles)
}

func TestSetUserPermissionsAndMe(t *testing.T) {
	f := newFixture(t)
	editor, err := f.svc.SaveRole(f.ctx, RoleInput{Name: "EDITOR", Permissions: []int64{3, 4}})
	require.NoError(t, err)
	_, err = f.svc.SetUserRoles(f.ctx, UserRolesInput{UserID: f.bob.ID, Roles: []int64{editor.ID}})
	require.NoError(t, err)

	direct, err := f.svc.SetUserPermissions(f.ctx, UserPermissionsInput{UserID: f.bob.ID, Permissions: []int64{4, 7}})
	require.NoError(t, err)
	assert.Len(t, direct.Permissions, 2)

	me, err := f.svc.Me(f.ctx, f.bob)
	require.NoError(t, err)
	assert.Equal(t, f.acme.ID, me.Tenant.ID)
	require.Len(t, me.Roles, 1)
	var ids []int64
	for _, p := range me.Permissions {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []int64{3, 4, 7}, ids)

	_, err = f.svc.SetUserPermissions(f.ctx, UserPermissionsInput{UserID: f.bob.ID, Permissions: []int64{100}})
	assert.ErrorIs(t, err, ErrUnknownPermission)

	list, err := f.svc.ListUserPermissions(f.ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Len(t, list[0].Permissions, 2, "rejected update keeps previous grants")
}

func TestStoreFailuresAreWrapped(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("boom")
	f.store.FailOn("roles.setPermissions", boom)

	_, err := f.svc.SaveRole(f.ctx, RoleInput{Name: "EDITOR"})
	assert.ErrorIs(t, err, boom)
}

func TestRolesFollowBoundTenant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	globex := &models.Tenant{SchemaName: "globex", Name: "Globex"}
	require.NoError(t, f.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.Tenants().Create(ctx, globex); err != nil {
			return err
		}
		return tx.ProvisionSchema(ctx, "globex")
	}))
	globexCtx := tenant.WithTenant(ctx, globex)

	_, err := f.svc.SaveRole(f.ctx, RoleInput{Name: "EDITOR", Permissions: []int64{3}})
	require.NoError(t, err)

	roles, err := f.svc.ListRoles(globexCtx)
	require.NoError(t, err)
	assert.Empty(t, roles)

	_, err = f.svc.SaveRole(globexCtx, RoleInput{Name: "AUDITOR"})
	require.NoError(t, err)
	roles, err = f.svc.ListRoles(f.ctx)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, "EDITOR", roles[0].Name)
}
