// Package invitation runs tenant bootstrap and the invite/redeem workflow.
// An invitation is created pending and moves to accepted exactly once.
package invitation

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nikhilbhutani/tenantkit/internal/apperr"
	"github.com/nikhilbhutani/tenantkit/internal/audit"
	"github.com/nikhilbhutani/tenantkit/internal/auth"
	"github.com/nikhilbhutani/tenantkit/internal/config"
	"github.com/nikhilbhutani/tenantkit/internal/database"
	"github.com/nikhilbhutani/tenantkit/internal/mail"
	"github.com/nikhilbhutani/tenantkit/internal/models"
	"github.com/nikhilbhutani/tenantkit/internal/observability"
	"github.com/nikhilbhutani/tenantkit/internal/store"
)

var (
	ErrDuplicateInvitation = apperr.Validation("Invitation with this email already exists")
	ErrInvitationNotFound  = apperr.Validation("Invitation not found")
	ErrAlreadyAccepted     = apperr.Validation("Invitation has already been accepted")
	ErrUnknownUser         = apperr.Validation("No account exists for the invited email")
	ErrNotInvitee          = apperr.Validation("Invitation not found or does not belong to you.")
	ErrTenantExists        = apperr.Validation("Tenant with this name or schema already exists")
)

const (
	tokenMin      = 100000
	tokenSpan     = 900000
	tokenAttempts = 5
)

// Mailer queues a message for delivery by the worker.
type Mailer interface {
	EnqueueEmail(ctx context.Context, msg mail.Message) error
}

type Service struct {
	store     store.Store
	mailer    Mailer
	audit     *audit.Service
	appScheme string
	newToken  func() (string, error)
	now       func() time.Time
}

func NewService(s store.Store, mailer Mailer, auditSvc *audit.Service, cfg config.AuthConfig) *Service {
	return &Service{
		store:     s,
		mailer:    mailer,
		audit:     auditSvc,
		appScheme: cfg.AppScheme,
		newToken:  randomToken,
		now:       time.Now,
	}
}

// randomToken returns a six digit code drawn uniformly from crypto/rand.
func randomToken() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(tokenSpan))
	if err != nil {
		return "", fmt.Errorf("generate invitation token: %w", err)
	}
	return strconv.FormatInt(n.Int64()+tokenMin, 10), nil
}

// Link carries what is needed to build the URL placed in an email.
type Link struct {
	BaseURL     string
	RedirectURL string
	FallbackURL string
}

func (s *Service) checkLink(link Link) error {
	if err := auth.CheckRedirect(link.RedirectURL, s.appScheme); err != nil {
		return err
	}
	return auth.CheckRedirect(link.FallbackURL, s.appScheme)
}

// BuildAcceptURL returns the one-click acceptance URL for token.
func BuildAcceptURL(link Link, token string) string {
	u := fmt.Sprintf("%s/api/tenants/invite/accept/%s/",
		strings.TrimRight(link.BaseURL, "/"), EncodeToken(token))
	params := url.Values{}
	if link.RedirectURL != "" {
		params.Set("redirect_url", link.RedirectURL)
	}
	if link.FallbackURL != "" {
		params.Set("fallback_url", link.FallbackURL)
	}
	if len(params) == 0 {
		return u
	}
	return u + "?" + params.Encode()
}

func EncodeToken(token string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(token))
}

func DecodeToken(s string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return "", fmt.Errorf("decode invitation token: %w", err)
	}
	return string(raw), nil
}

// createWithToken inserts inv under a fresh token, drawing again while the
// token is held by another pending invitation.
func (s *Service) createWithToken(ctx context.Context, invs store.Invitations, inv *models.Invitation) error {
	for attempt := 1; ; attempt++ {
		token, err := s.newToken()
		if err != nil {
			return err
		}
		inv.Token = token

		err = invs.Create(ctx, inv)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, store.ErrTokenTaken) && attempt < tokenAttempts:
			slog.DebugContext(ctx, "invitation token collision, retrying", "attempt", attempt)
		case errors.Is(err, store.ErrConflict):
			return ErrDuplicateInvitation
		default:
			return err
		}
	}
}

type CreateTenantInput struct {
	Name       string          `json:"name" validate:"required,max=100"`
	SchemaName string          `json:"schema_name" validate:"omitempty,max=63"`
	Settings   json.RawMessage `json:"settings"`
}

// CreateTenant creates a tenant and makes creator its first admin. The
// tenant row, its schema, the creator's membership and the seeded
// TENANT_ADMIN role commit together or not at all.
func (s *Service) CreateTenant(ctx context.Context, creator *models.User, in CreateTenantInput, link Link) (*models.Tenant, error) {
	if err := apperr.ValidateStruct(in); err != nil {
		return nil, err
	}
	if err := s.checkLink(link); err != nil {
		return nil, err
	}

	schema := strings.ToLower(strings.TrimSpace(in.SchemaName))
	if schema == "" {
		schema = database.SchemaNameFrom(in.Name)
	}
	if err := database.ValidateSchemaName(schema); err != nil {
		return nil, apperr.ValidationFields(map[string]string{"schema_name": err.Error()})
	}

	t := &models.Tenant{
		SchemaName: schema,
		Name:       strings.TrimSpace(in.Name),
		AdminEmail: creator.Email,
		Status:     models.TenantStatusActive,
		Settings:   in.Settings,
	}

	err := s.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.Tenants().Create(ctx, t); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return ErrTenantExists
			}
			return err
		}
		if err := tx.ProvisionSchema(ctx, t.SchemaName); err != nil {
			return err
		}

		// the creator's own invitation is born accepted
		at := s.now()
		inv := &models.Invitation{TenantID: t.ID, Email: creator.Email, InvitedBy: &creator.ID}
		inv.Accept(at)
		if err := s.createWithToken(ctx, tx.Invitations(), inv); err != nil {
			return err
		}
		if err := tx.Users().AddTenant(ctx, creator.ID, t.ID); err != nil {
			return err
		}

		return seedAdmin(ctx, tx, t.SchemaName, creator)
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap tenant: %w", err)
	}

	observability.RecordTenantCreated()
	slog.InfoContext(ctx, "tenant created", "tenant_id", t.ID, "schema", t.SchemaName, "admin", creator.ID)

	s.notify(ctx, mail.Message{
		To:                 creator.Email,
		Subject:            "Your Tenant Is Ready",
		Title:              "Your Tenant Is Ready",
		GeneralMessage:     fmt.Sprintf("%s has been created and you are its administrator.", t.Name),
		CallToAction:       fmt.Sprintf("Use %q as the tenant identifier when calling the API.", t.SchemaName),
		ConfirmationURL:    link.RedirectURL,
		ButtonText:         "Open Tenant",
		InformationMessage: "Button not working? Copy and paste this link into your browser",
	})
	s.record(ctx, audit.LogEntry{
		TenantID:     &t.ID,
		Action:       models.AuditTenantCreated,
		ResourceType: "tenant",
		ResourceID:   t.ID.String(),
		Details:      map[string]any{"schema_name": t.SchemaName, "name": t.Name},
	})
	return t, nil
}

func seedAdmin(ctx context.Context, tx store.Tx, schema string, creator *models.User) error {
	roles := tx.Roles(schema)
	role, err := roles.EnsureRole(ctx, models.RoleTenantAdmin)
	if err != nil {
		return err
	}

	perms, err := tx.Permissions().GetByCodenames(ctx, models.TenantAdminPermissions)
	if err != nil {
		return err
	}
	if len(perms) != len(models.TenantAdminPermissions) {
		return fmt.Errorf("seed %s: permission catalog is missing entries", models.RoleTenantAdmin)
	}
	ids := make([]int64, len(perms))
	for i, p := range perms {
		ids[i] = p.ID
	}
	if err := roles.GrantPermissions(ctx, role.ID, ids); err != nil {
		return err
	}
	return roles.AssignRoles(ctx, creator.ID, []int64{role.ID})
}

type InviteInput struct {
	Email string `json:"email" validate:"required,email,max=255"`
}

// Invite creates a pending invitation for email into t and queues the
// invitation email. Re-inviting an address fails whatever the state of the
// earlier invitation.
func (s *Service) Invite(ctx context.Context, t *models.Tenant, inviter *models.User, in InviteInput, link Link) (*models.Invitation, error) {
	if err := apperr.ValidateStruct(in); err != nil {
		return nil, err
	}
	if err := s.checkLink(link); err != nil {
		return nil, err
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))

	exists, err := s.store.Invitations().Exists(ctx, t.ID, email)
	if err != nil {
		return nil, fmt.Errorf("check invitation: %w", err)
	}
	if exists {
		observability.RecordInvitation(observability.InvitationRejected)
		return nil, ErrDuplicateInvitation
	}

	inv := &models.Invitation{TenantID: t.ID, Email: email, InvitedBy: &inviter.ID}
	if err := s.createWithToken(ctx, s.store.Invitations(), inv); err != nil {
		if errors.Is(err, ErrDuplicateInvitation) {
			observability.RecordInvitation(observability.InvitationRejected)
		}
		return nil, err
	}

	observability.RecordInvitation(observability.InvitationCreated)
	slog.InfoContext(ctx, "invitation created", "tenant_id", t.ID, "invitation_id", inv.ID)

	s.notify(ctx, mail.Message{
		To:                 email,
		Subject:            "Accept The Invitation",
		Title:              "Accept The Invitation",
		GeneralMessage:     fmt.Sprintf("You have been invited to join %s.", t.Name),
		CallToAction:       fmt.Sprintf("Click the button below to accept, or enter the code %s in the app.", inv.Token),
		ConfirmationURL:    BuildAcceptURL(link, inv.Token),
		ButtonText:         "Accept The Invitation",
		InformationMessage: "Button not working? Copy and paste this link into your browser",
	})
	s.record(ctx, audit.LogEntry{
		TenantID:     &t.ID,
		Action:       models.AuditInvitationCreated,
		ResourceType: "invitation",
		ResourceID:   strconv.FormatInt(inv.ID, 10),
		Details:      map[string]any{"email": email},
	})
	return inv, nil
}

// Redeem accepts the invitation holding token on behalf of the invitee.
// Concurrent redemptions of one token serialize on the row lock; exactly one
// succeeds and the others see ErrAlreadyAccepted.
func (s *Service) Redeem(ctx context.Context, token string) (*models.Invitation, error) {
	return s.redeem(ctx, token, "", ErrInvitationNotFound)
}

// AcceptForUser redeems token for u. The invitation must be addressed to
// u's email.
func (s *Service) AcceptForUser(ctx context.Context, u *models.User, token string) (*models.Invitation, error) {
	return s.redeem(ctx, token, u.Email, ErrNotInvitee)
}

func (s *Service) redeem(ctx context.Context, token, email string, errMissing error) (*models.Invitation, error) {
	var inv *models.Invitation
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		found, err := tx.Invitations().FindForUpdate(ctx, token, email)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return errMissing
			}
			return err
		}
		if found.IsAccepted {
			return ErrAlreadyAccepted
		}

		invitee, err := tx.Users().GetByEmail(ctx, found.Email)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrUnknownUser
			}
			return err
		}
		if err := tx.Users().AddTenant(ctx, invitee.ID, found.TenantID); err != nil {
			return err
		}

		at := s.now()
		if err := tx.Invitations().MarkAccepted(ctx, found.ID, at); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrAlreadyAccepted
			}
			return err
		}
		found.Accept(at)
		inv = found
		return nil
	})
	if err != nil {
		if _, ok := apperr.As(err); ok {
			observability.RecordInvitation(observability.InvitationRejected)
			return nil, err
		}
		return nil, fmt.Errorf("redeem invitation: %w", err)
	}

	observability.RecordInvitation(observability.InvitationAccepted)
	slog.InfoContext(ctx, "invitation accepted", "tenant_id", inv.TenantID, "invitation_id", inv.ID)
	s.record(ctx, audit.LogEntry{
		TenantID:     &inv.TenantID,
		Action:       models.AuditInvitationAccepted,
		ResourceType: "invitation",
		ResourceID:   strconv.FormatInt(inv.ID, 10),
		Details:      map[string]any{"email": inv.Email},
	})
	return inv, nil
}

// ListPending returns invitations addressed to u that are still open.
func (s *Service) ListPending(ctx context.Context, u *models.User) ([]models.Invitation, error) {
	invs, err := s.store.Invitations().ListPending(ctx, u.Email)
	if err != nil {
		return nil, fmt.Errorf("list pending invitations: %w", err)
	}
	return invs, nil
}

// ListTenants returns the tenants u belongs to.
func (s *Service) ListTenants(ctx context.Context, u *models.User) ([]models.Tenant, error) {
	tenants, err := s.store.Users().ListTenants(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return tenants, nil
}

func (s *Service) notify(ctx context.Context, msg mail.Message) {
	if err := s.mailer.EnqueueEmail(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "enqueue email", "to", msg.To, "subject", msg.Subject, "error", err)
	}
}

func (s *Service) record(ctx context.Context, entry audit.LogEntry) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, entry); err != nil {
		slog.ErrorContext(ctx, "write audit log", "action", entry.Action, "error", err)
	}
}
