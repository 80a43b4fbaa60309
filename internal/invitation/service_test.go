package invitation

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"github.com/nikhilbhutani/tenantkit/internal/audit"
	"github.com/nikhilbhutani/tenantkit/internal/auth"
	"github.com/nikhilbhutani/tenantkit/internal/config"
	"github.com/nikhilbhutani/tenantkit/internal/mail"
	"github.com/nikhilbhutani/tenantkit/internal/models"
	"github.com/nikhilbhutani/tenantkit/internal/store"
	"github.com/nikhilbhutani/tenantkit/internal/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (f *fakeMailer) EnqueueEmail(_ context.Context, msg mail.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

type harness struct {
	svc    *Service
	store  *memstore.Store
	mailer *fakeMailer
	alice  *models.User
	bob    *models.User
}

var link = Link{BaseURL: "http://api.local"}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s := memstore.New()
	h := &harness{
		store:  s,
		mailer: &fakeMailer{},
		alice:  &models.User{Email: "alice@x.com", IsActive: true, IsVerified: true},
		bob:    &models.User{Email: "bob@x.com", IsActive: true, IsVerified: true},
	}
	ctx := context.Background()
	require.NoError(t, s.Users().Create(ctx, h.alice))
	require.NoError(t, s.Users().Create(ctx, h.bob))

	h.svc = NewService(s, h.mailer, audit.NewService(s.AuditLogs()), config.AuthConfig{AppScheme: "myapp"})
	return h
}

func (h *harness) acme(t *testing.T) *models.Tenant {
	t.Helper()
	tn, err := h.svc.CreateTenant(context.Background(), h.alice, CreateTenantInput{Name: "Acme", SchemaName: "acme"}, link)
	require.NoError(t, err)
	return tn
}

// tokens replays fixed codes, repeating the last one when exhausted.
func tokens(codes ...string) func() (string, error) {
	var mu sync.Mutex
	i := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		code := codes[i]
		if i < len(codes)-1 {
			i++
		}
		return code, nil
	}
}

func TestCreateTenantBootstrapsAdmin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tn := h.acme(t)
	assert.Equal(t, "acme", tn.SchemaName)
	assert.Equal(t, models.TenantStatusActive, tn.Status)
	assert.Equal(t, "alice@x.com", tn.AdminEmail)

	member, err := h.store.Users().IsMember(ctx, h.alice.ID, tn.ID)
	require.NoError(t, err)
	assert.True(t, member)

	roles := h.store.Roles("acme")
	isAdmin, err := roles.HasAnyRole(ctx, h.alice.ID, []string{models.RoleTenantAdmin})
	require.NoError(t, err)
	assert.True(t, isAdmin)
	canInvite, err := roles.HasAnyPermission(ctx, h.alice.ID, []string{models.PermInviteUsers})
	require.NoError(t, err)
	assert.True(t, canInvite)

	all, err := roles.ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Len(t, all[0].Permissions, len(models.TenantAdminPermissions))

	// the creator's own invitation exists and is already accepted
	exists, err := h.store.Invitations().Exists(ctx, tn.ID, "alice@x.com")
	require.NoError(t, err)
	assert.True(t, exists)
	pending, err := h.svc.ListPending(ctx, h.alice)
	require.NoError(t, err)
	assert.Empty(t, pending)

	logs, err := h.store.AuditLogs().List(ctx, tn.ID, store.AuditQuery{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.AuditTenantCreated, logs[0].Action)
}

func TestCreateTenantDerivesSchemaName(t *testing.T) {
	h := newHarness(t)
	tn, err := h.svc.CreateTenant(context.Background(), h.alice, CreateTenantInput{Name: "Globex Corp."}, link)
	require.NoError(t, err)
	assert.Equal(t, "globex_corp", tn.SchemaName)

	_, err = h.svc.CreateTenant(context.Background(), h.bob, CreateTenantInput{Name: "Other", SchemaName: "public"}, link)
	assert.Error(t, err)
}

func TestCreateTenantRollsBackOnSeedFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.store.FailOn("roles.assign", errors.New("boom"))
	_, err := h.svc.CreateTenant(ctx, h.alice, CreateTenantInput{Name: "Acme", SchemaName: "acme"}, link)
	require.Error(t, err)

	_, err = h.store.Tenants().GetBySchema(ctx, "acme")
	assert.ErrorIs(t, err, store.ErrNotFound)
	tenants, err := h.store.Users().ListTenants(ctx, h.alice.ID)
	require.NoError(t, err)
	assert.Empty(t, tenants)
	_, err = h.store.Roles("acme").ListRoles(ctx)
	assert.Error(t, err, "schema must not survive the rollback")
	assert.Empty(t, h.mailer.sent)

	h.store.FailOn("roles.assign", nil)
	tn := h.acme(t)
	assert.Equal(t, "acme", tn.SchemaName)
}

func TestCreateTenantDuplicate(t *testing.T) {
	h := newHarness(t)
	h.acme(t)

	_, err := h.svc.CreateTenant(context.Background(), h.bob, CreateTenantInput{Name: "Acme 2", SchemaName: "ACME"}, link)
	assert.ErrorIs(t, err, ErrTenantExists)
}

func TestInviteAndRedeem(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tn := h.acme(t)

	inv, err := h.svc.Invite(ctx, tn, h.alice, InviteInput{Email: "Bob@X.com"}, Link{BaseURL: "http://api.local", RedirectURL: "https://app.local/joined"})
	require.NoError(t, err)
	assert.Equal(t, "bob@x.com", inv.Email)
	assert.False(t, inv.IsAccepted)
	code, err := strconv.Atoi(inv.Token)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, code, 100000)
	assert.LessOrEqual(t, code, 999999)

	msg := h.mailer.sent[len(h.mailer.sent)-1]
	assert.Equal(t, "bob@x.com", msg.To)
	assert.Equal(t, "You have been invited to join Acme.", msg.GeneralMessage)
	u, err := url.Parse(msg.ConfirmationURL)
	require.NoError(t, err)
	assert.Equal(t, "/api/tenants/invite/accept/"+EncodeToken(inv.Token)+"/", u.Path)
	assert.Equal(t, "https://app.local/joined", u.Query().Get("redirect_url"))

	pending, err := h.svc.ListPending(ctx, h.bob)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	accepted, err := h.svc.Redeem(ctx, inv.Token)
	require.NoError(t, err)
	assert.True(t, accepted.IsAccepted)
	require.NotNil(t, accepted.AcceptedAt)

	member, err := h.store.Users().IsMember(ctx, h.bob.ID, tn.ID)
	require.NoError(t, err)
	assert.True(t, member)

	_, err = h.svc.Redeem(ctx, inv.Token)
	assert.ErrorIs(t, err, ErrAlreadyAccepted)

	_, err = h.svc.Redeem(ctx, "000000")
	assert.ErrorIs(t, err, ErrInvitationNotFound)

	logs, err := h.store.AuditLogs().List(ctx, tn.ID, store.AuditQuery{Action: models.AuditInvitationAccepted})
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestInviteDuplicateInAnyState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tn := h.acme(t)

	inv, err := h.svc.Invite(ctx, tn, h.alice, InviteInput{Email: "bob@x.com"}, link)
	require.NoError(t, err)
	_, err = h.svc.Invite(ctx, tn, h.alice, InviteInput{Email: "BOB@x.com"}, link)
	assert.ErrorIs(t, err, ErrDuplicateInvitation)

	_, err = h.svc.Redeem(ctx, inv.Token)
	require.NoError(t, err)
	_, err = h.svc.Invite(ctx, tn, h.alice, InviteInput{Email: "bob@x.com"}, link)
	assert.ErrorIs(t, err, ErrDuplicateInvitation)

	// the creator holds an accepted self-invitation
	_, err = h.svc.Invite(ctx, tn, h.alice, InviteInput{Email: "alice@x.com"}, link)
	assert.ErrorIs(t, err, ErrDuplicateInvitation)
}

func TestConcurrentRedeemHasOneWinner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tn := h.acme(t)
	inv, err := h.svc.Invite(ctx, tn, h.alice, InviteInput{Email: "bob@x.com"}, link)
	require.NoError(t, err)

	const n = 20
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.svc.Redeem(ctx, inv.Token)
		}(i)
	}
	wg.Wait()

	var ok, already int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadyAccepted):
			already++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, already)
}

func TestRedeemUnknownUserLeavesInvitationPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tn := h.acme(t)

	inv, err := h.svc.Invite(ctx, tn, h.alice, InviteInput{Email: "carol@x.com"}, link)
	require.NoError(t, err)

	_, err = h.svc.Redeem(ctx, inv.Token)
	assert.ErrorIs(t, err, ErrUnknownUser)

	carol := &models.User{Email: "carol@x.com", IsActive: true, IsVerified: true}
	require.NoError(t, h.store.Users().Create(ctx, carol))
	_, err = h.svc.Redeem(ctx, inv.Token)
	assert.NoError(t, err)
}

func TestAcceptForUserChecksInvitee(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tn := h.acme(t)
	inv, err := h.svc.Invite(ctx, tn, h.alice, InviteInput{Email: "bob@x.com"}, link)
	require.NoError(t, err)

	_, err = h.svc.AcceptForUser(ctx, h.alice, inv.Token)
	assert.ErrorIs(t, err, ErrNotInvitee)

	_, err = h.svc.AcceptForUser(ctx, h.bob, inv.Token)
	require.NoError(t, err)
	_, err = h.svc.AcceptForUser(ctx, h.bob, inv.Token)
	assert.ErrorIs(t, err, ErrAlreadyAccepted)
}

func TestTokenCollisionRetries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tn := h.acme(t)

	h.svc.newToken = tokens("123456")
	_, err := h.svc.Invite(ctx, tn, h.alice, InviteInput{Email: "bob@x.com"}, link)
	require.NoError(t, err)

	h.svc.newToken = tokens("123456", "123456", "654321")
	carol, err := h.svc.Invite(ctx, tn, h.alice, InviteInput{Email: "carol@x.com"}, link)
	require.NoError(t, err)
	assert.Equal(t, "654321", carol.Token)

	h.svc.newToken = tokens("123456")
	_, err = h.svc.Invite(ctx, tn, h.alice, InviteInput{Email: "dave@x.com"}, link)
	assert.ErrorIs(t, err, store.ErrTokenTaken)
}

func TestAcceptedTokenCanBeReissued(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tn := h.acme(t)

	h.svc.newToken = tokens("111111")
	first, err := h.svc.Invite(ctx, tn, h.alice, InviteInput{Email: "bob@x.com"}, link)
	require.NoError(t, err)
	_, err = h.svc.Redeem(ctx, first.Token)
	require.NoError(t, err)

	carol := &models.User{Email: "carol@x.com", IsActive: true, IsVerified: true}
	require.NoError(t, h.store.Users().Create(ctx, carol))
	second, err := h.svc.Invite(ctx, tn, h.alice, InviteInput{Email: "carol@x.com"}, link)
	require.NoError(t, err)
	assert.Equal(t, "111111", second.Token)

	// the pending invitation wins over the accepted one
	got, err := h.svc.Redeem(ctx, "111111")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
}

func TestInviteSurvivesMailerOutage(t *testing.T) {
	h := newHarness(t)
	tn := h.acme(t)
	h.mailer.err = errors.New("redis down")

	inv, err := h.svc.Invite(context.Background(), tn, h.alice, InviteInput{Email: "bob@x.com"}, link)
	require.NoError(t, err)
	assert.NotZero(t, inv.ID)
}

func TestInviteRejectsBadInput(t *testing.T) {
	h := newHarness(t)
	tn := h.acme(t)
	ctx := context.Background()

	_, err := h.svc.Invite(ctx, tn, h.alice, InviteInput{Email: "nope"}, link)
	assert.Error(t, err)

	_, err = h.svc.Invite(ctx, tn, h.alice, InviteInput{Email: "bob@x.com"}, Link{BaseURL: "http://api.local", FallbackURL: "ftp://files"})
	assert.ErrorIs(t, err, auth.ErrRedirectScheme)
}

func TestTokenEncoding(t *testing.T) {
	enc := EncodeToken("482913")
	got, err := DecodeToken(enc)
	require.NoError(t, err)
	assert.Equal(t, "482913", got)

	_, err = DecodeToken("***")
	assert.Error(t, err)

	assert.Equal(t, "http://api.local/api/tenants/invite/accept/"+enc+"/", BuildAcceptURL(link, "482913"))
}

func TestRandomTokenRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		tok, err := randomToken()
		require.NoError(t, err)
		require.Len(t, tok, 6)
		n, err := strconv.Atoi(tok)
		require.NoError(t, err)
		require.True(t, n >= 100000 && n <= 999999)
	}
}
