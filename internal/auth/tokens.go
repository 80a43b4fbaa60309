package auth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/nikhilbhutani/tenantkit/internal/config"
	"github.com/nikhilbhutani/tenantkit/internal/models"
)

type TokenKind string

const (
	TokenAccess        TokenKind = "access"
	TokenRefresh       TokenKind = "refresh"
	TokenEmailVerify   TokenKind = "email_verify"
	TokenPasswordReset TokenKind = "password_reset"
)

const issuer = "tenantkit"

var (
	ErrTokenExpired     = errors.New("token expired")
	ErrTokenMalformed   = errors.New("invalid token")
	ErrResetLinkInvalid = errors.New("token is not valid, please request a new one")
)

type Claims struct {
	Type  TokenKind `json:"typ"`
	Email string    `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the subject as a uuid.
func (c *Claims) UserID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Issuer signs and verifies every token kind. Each kind has its own
// audience and typ claim so one can never stand in for another.
type Issuer struct {
	secret []byte
	cfg    config.AuthConfig
	now    func() time.Time
}

func NewIssuer(cfg config.AuthConfig) *Issuer {
	return &Issuer{secret: []byte(cfg.JWTSecret), cfg: cfg, now: time.Now}
}

func (i *Issuer) ttl(kind TokenKind) time.Duration {
	switch kind {
	case TokenAccess:
		return i.cfg.AccessTokenTTL
	case TokenRefresh:
		return i.cfg.RefreshTokenTTL
	case TokenEmailVerify:
		return i.cfg.VerifyTokenTTL
	default:
		return i.cfg.ResetTokenTTL
	}
}

func (i *Issuer) sign(u *models.User, kind TokenKind, key []byte) (string, error) {
	now := i.now()
	claims := Claims{
		Type:  kind,
		Email: u.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   u.ID.String(),
			Audience:  jwt.ClaimStrings{audience(kind)},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl(kind))),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, nil
}

func (i *Issuer) parse(token string, kind TokenKind, key []byte) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience(kind)),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenMalformed
	}
	if claims.Type != kind {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

// IssuePair returns a fresh access/refresh pair for u.
func (i *Issuer) IssuePair(u *models.User) (*TokenPair, error) {
	access, err := i.sign(u, TokenAccess, i.secret)
	if err != nil {
		return nil, err
	}
	refresh, err := i.sign(u, TokenRefresh, i.secret)
	if err != nil {
		return nil, err
	}
	return &TokenPair{Access: access, Refresh: refresh}, nil
}

func (i *Issuer) IssueVerification(u *models.User) (string, error) {
	return i.sign(u, TokenEmailVerify, i.secret)
}

// Parse verifies a token signed with the shared secret. It fails with
// ErrTokenExpired or ErrTokenMalformed.
func (i *Issuer) Parse(token string, kind TokenKind) (*Claims, error) {
	if kind == TokenPasswordReset {
		return nil, fmt.Errorf("reset tokens are bound to a user: %w", ErrTokenMalformed)
	}
	return i.parse(token, kind, i.secret)
}

// IssueReset signs a reset token with a key derived from the user's current
// password hash, so changing the password invalidates every open token.
func (i *Issuer) IssueReset(u *models.User) (string, error) {
	return i.sign(u, TokenPasswordReset, i.resetKey(u))
}

// CheckReset validates a reset token against u. Every failure collapses to
// ErrResetLinkInvalid.
func (i *Issuer) CheckReset(token string, u *models.User) error {
	claims, err := i.parse(token, TokenPasswordReset, i.resetKey(u))
	if err != nil || claims.Subject != u.ID.String() {
		return ErrResetLinkInvalid
	}
	return nil
}

func (i *Issuer) resetKey(u *models.User) []byte {
	key := make([]byte, 0, len(i.secret)+len(u.PasswordHash))
	key = append(key, i.secret...)
	return append(key, u.PasswordHash...)
}

func audience(kind TokenKind) string {
	return issuer + ":" + string(kind)
}

// EncodeUserID renders id the way it travels in reset links.
func EncodeUserID(id uuid.UUID) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id.String()))
}

func DecodeUserID(s string) (uuid.UUID, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("decode user id: %w", err)
	}
	return uuid.Parse(string(raw))
}
