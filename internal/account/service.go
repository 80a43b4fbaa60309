// Package account owns the identity lifecycle: sign-up with email
// verification, login and logout, token refresh and password reset.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/nikhilbhutani/tenantkit/internal/apperr"
	"github.com/nikhilbhutani/tenantkit/internal/auth"
	"github.com/nikhilbhutani/tenantkit/internal/config"
	"github.com/nikhilbhutani/tenantkit/internal/mail"
	"github.com/nikhilbhutani/tenantkit/internal/models"
	"github.com/nikhilbhutani/tenantkit/internal/store"
)

var (
	ErrAccountExists      = apperr.Validation("Account already exist")
	ErrInvalidCredentials = apperr.Authentication("Invalid credentials, try again")
	ErrUnverified         = apperr.Authentication("Unverified email, try after verification")
	ErrDisabled           = apperr.Authentication("Account disabled, contact admin")
	ErrActivationExpired  = apperr.Validation("Activation Expired")
	ErrInvalidToken       = apperr.Validation("Invalid token")
	ErrSessionToken       = apperr.Authentication("Token is expired or invalid")
	ErrResetLinkInvalid   = apperr.Authentication("The reset link is invalid")
)

// Mailer queues a message for delivery by the worker.
type Mailer interface {
	EnqueueEmail(ctx context.Context, msg mail.Message) error
}

type Service struct {
	store     store.Store
	issuer    *auth.Issuer
	blacklist *auth.Blacklist
	mailer    Mailer
	appScheme string
}

func NewService(s store.Store, issuer *auth.Issuer, blacklist *auth.Blacklist, mailer Mailer, cfg config.AuthConfig) *Service {
	return &Service{
		store:     s,
		issuer:    issuer,
		blacklist: blacklist,
		mailer:    mailer,
		appScheme: cfg.AppScheme,
	}
}

// Link carries what is needed to build the URL placed in an email. BaseURL
// is the scheme and host the request arrived on.
type Link struct {
	BaseURL     string
	RedirectURL string
}

type RegisterInput struct {
	Email      string  `json:"email" validate:"required,email,max=255"`
	Password   string  `json:"password" validate:"required,min=6,max=68"`
	FirstName  string  `json:"first_name" validate:"required,max=255"`
	MiddleName *string `json:"middle_name" validate:"omitempty,max=255"`
	LastName   string  `json:"last_name" validate:"required,max=255"`
}

// Register creates an unverified account and queues the verification email.
func (s *Service) Register(ctx context.Context, in RegisterInput, link Link) (*models.User, error) {
	if err := apperr.ValidateStruct(in); err != nil {
		return nil, err
	}
	if err := auth.CheckRedirect(link.RedirectURL, s.appScheme); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooShort) {
			return nil, apperr.ValidationFields(map[string]string{"password": err.Error()})
		}
		return nil, err
	}

	u := &models.User{
		Email:        strings.ToLower(strings.TrimSpace(in.Email)),
		PasswordHash: hash,
		FirstName:    in.FirstName,
		MiddleName:   in.MiddleName,
		LastName:     in.LastName,
		IsActive:     true,
	}
	if err := s.store.Users().Create(ctx, u); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	token, err := s.issuer.IssueVerification(u)
	if err != nil {
		return nil, err
	}
	params := url.Values{"token": {token}}
	if link.RedirectURL != "" {
		params.Set("redirect_url", link.RedirectURL)
	}
	s.notify(ctx, mail.Message{
		To:                 u.Email,
		Subject:            "Verify Your Email",
		Title:              "Verify Your Email",
		GeneralMessage:     "To get started, please verify your email address",
		CallToAction:       "In order to complete your registration, please click the button below:",
		ConfirmationURL:    auth.WithQuery(strings.TrimRight(link.BaseURL, "/")+"/api/auth/email-verify/", params),
		ButtonText:         "Complete Registration",
		InformationMessage: "Button not working? Copy and paste this link into your browser",
	})

	slog.InfoContext(ctx, "account registered", "user_id", u.ID)
	return u, nil
}

// VerifyEmail activates the account behind token and returns a fresh token
// pair. Verifying an already verified account succeeds again.
func (s *Service) VerifyEmail(ctx context.Context, token string) (*models.User, *auth.TokenPair, error) {
	claims, err := s.issuer.Parse(token, auth.TokenEmailVerify)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			return nil, nil, ErrActivationExpired
		}
		return nil, nil, ErrInvalidToken
	}
	id, err := claims.UserID()
	if err != nil {
		return nil, nil, ErrInvalidToken
	}

	u, err := s.store.Users().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, ErrInvalidToken
		}
		return nil, nil, fmt.Errorf("load user: %w", err)
	}
	if !u.IsVerified {
		if err := s.store.Users().SetVerified(ctx, u.ID); err != nil {
			return nil, nil, fmt.Errorf("verify user: %w", err)
		}
		u.IsVerified = true
		slog.InfoContext(ctx, "email verified", "user_id", u.ID)
	}

	pair, err := s.issuer.IssuePair(u)
	if err != nil {
		return nil, nil, err
	}
	return u, pair, nil
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,max=68"`
}

type Session struct {
	User    *models.User
	Tokens  *auth.TokenPair
	Tenants []models.Tenant
}

func (s *Service) Login(ctx context.Context, in LoginInput) (*Session, error) {
	if err := apperr.ValidateStruct(in); err != nil {
		return nil, err
	}

	u, err := s.store.Users().GetByEmail(ctx, strings.TrimSpace(in.Email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	ok, err := auth.CheckPassword(u.PasswordHash, in.Password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if !u.IsVerified {
		return nil, ErrUnverified
	}
	if !u.IsActive {
		return nil, ErrDisabled
	}

	pair, err := s.issuer.IssuePair(u)
	if err != nil {
		return nil, err
	}
	tenants, err := s.store.Users().ListTenants(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return &Session{User: u, Tokens: pair, Tenants: tenants}, nil
}

// Logout revokes the refresh token for the rest of its lifetime.
// Logout revokes the refresh token and, when given, the access token the
// request was authenticated with.
func (s *Service) Logout(ctx context.Context, access *auth.Claims, refresh string) error {
	claims, err := s.issuer.Parse(refresh, auth.TokenRefresh)
	if err != nil {
		return ErrSessionToken
	}
	if err := s.blacklist.Revoke(ctx, claims); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	if access != nil {
		if err := s.blacklist.Revoke(ctx, access); err != nil {
			return fmt.Errorf("revoke access token: %w", err)
		}
	}
	return nil
}

// Refresh rotates a refresh token. Each refresh token is honoured once.
func (s *Service) Refresh(ctx context.Context, refresh string) (*auth.TokenPair, error) {
	claims, err := s.issuer.Parse(refresh, auth.TokenRefresh)
	if err != nil {
		return nil, ErrSessionToken
	}
	first, err := s.blacklist.Consume(ctx, claims)
	if err != nil {
		return nil, fmt.Errorf("consume refresh token: %w", err)
	}
	if !first {
		return nil, ErrSessionToken
	}

	id, err := claims.UserID()
	if err != nil {
		return nil, ErrSessionToken
	}
	u, err := s.store.Users().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionToken
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !u.CanAuthenticate() {
		return nil, ErrSessionToken
	}
	return s.issuer.IssuePair(u)
}

// RequestPasswordReset queues a reset email when an account exists for
// email. Unknown addresses succeed silently.
func (s *Service) RequestPasswordReset(ctx context.Context, email string, link Link) error {
	if err := auth.CheckRedirect(link.RedirectURL, s.appScheme); err != nil {
		return err
	}

	u, err := s.store.Users().GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load user: %w", err)
	}

	token, err := s.issuer.IssueReset(u)
	if err != nil {
		return err
	}
	resetURL := fmt.Sprintf("%s/api/auth/password-reset/%s/%s/",
		strings.TrimRight(link.BaseURL, "/"), auth.EncodeUserID(u.ID), token)
	if link.RedirectURL != "" {
		resetURL = auth.WithQuery(resetURL, url.Values{"redirect_url": {link.RedirectURL}})
	}

	s.notify(ctx, mail.Message{
		To:                 u.Email,
		Subject:            "Reset Your Password",
		Title:              "Reset Your Password",
		GeneralMessage:     "We received a request to reset your password. If you didn't make this request, you can ignore this message.",
		CallToAction:       "To reset your password, simply click the button below:",
		ConfirmationURL:    resetURL,
		ButtonText:         "Reset Password",
		InformationMessage: "Button not working? Copy and paste this link into your browser",
	})
	return nil
}

// CheckResetToken reports whether the (uidb64, token) pair of a reset link
// is still usable.
func (s *Service) CheckResetToken(ctx context.Context, uidb64, token string) error {
	_, err := s.resetUser(ctx, uidb64, token)
	return err
}

type ResetInput struct {
	Password string `json:"password" validate:"required,min=6,max=68"`
	Token    string `json:"token" validate:"required"`
	UIDB64   string `json:"uidb64" validate:"required"`
}

// CompleteReset sets a new password. The old password hash keys the token,
// so the link stops working once this succeeds.
func (s *Service) CompleteReset(ctx context.Context, in ResetInput) error {
	if err := apperr.ValidateStruct(in); err != nil {
		return err
	}
	u, err := s.resetUser(ctx, in.UIDB64, in.Token)
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return err
	}
	if err := s.store.Users().SetPassword(ctx, u.ID, hash); err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	slog.InfoContext(ctx, "password reset", "user_id", u.ID)
	return nil
}

func (s *Service) resetUser(ctx context.Context, uidb64, token string) (*models.User, error) {
	id, err := auth.DecodeUserID(uidb64)
	if err != nil {
		return nil, ErrResetLinkInvalid
	}
	u, err := s.store.Users().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrResetLinkInvalid
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if err := s.issuer.CheckReset(token, u); err != nil {
		return nil, ErrResetLinkInvalid
	}
	return u, nil
}

func (s *Service) notify(ctx context.Context, msg mail.Message) {
	if err := s.mailer.EnqueueEmail(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "enqueue email", "to", msg.To, "subject", msg.Subject, "error", err)
	}
}
