package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nikhilbhutani/tenantkit/internal/respond"
	"github.com/nikhilbhutani/tenantkit/internal/store"
	"github.com/nikhilbhutani/tenantkit/internal/tenant"
)

type JWTMiddleware struct {
	issuer    *Issuer
	users     store.Users
	blacklist *Blacklist
}

func NewJWTMiddleware(issuer *Issuer, users store.Users, blacklist *Blacklist) *JWTMiddleware {
	return &JWTMiddleware{issuer: issuer, users: users, blacklist: blacklist}
}

// Authenticate requires a valid, unrevoked access token and loads its user
// into the request context.
func (m *JWTMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := extractBearerToken(r)
		if tokenStr == "" {
			respond.Detail(w, http.StatusUnauthorized, "Authentication credentials were not provided.")
			return
		}

		claims, err := m.issuer.Parse(tokenStr, TokenAccess)
		if err != nil {
			msg := "Given token not valid for any token type"
			if errors.Is(err, ErrTokenExpired) {
				msg = "Token is expired"
			}
			respond.Detail(w, http.StatusUnauthorized, msg)
			return
		}

		revoked, err := m.blacklist.IsRevoked(r.Context(), claims)
		if err != nil {
			slog.ErrorContext(r.Context(), "check token blacklist", "error", err)
			respond.Detail(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if revoked {
			respond.Detail(w, http.StatusUnauthorized, "Token is blacklisted")
			return
		}

		userID, err := claims.UserID()
		if err != nil {
			respond.Detail(w, http.StatusUnauthorized, "Token contained no recognizable user identification")
			return
		}

		ctx := r.Context()
		user, err := m.users.GetByID(ctx, userID)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				respond.Error(w, r, err, http.StatusInternalServerError)
				return
			}
			respond.Detail(w, http.StatusUnauthorized, "User not found")
			return
		}
		if !user.IsActive {
			respond.Detail(w, http.StatusUnauthorized, "User is inactive")
			return
		}

		ctx = tenant.WithUser(ctx, user)
		ctx = context.WithValue(ctx, claimsKey, claims)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type ctxKey string

const claimsKey ctxKey = "claims"

// ClaimsFromContext returns the access token claims Authenticate accepted.
func ClaimsFromContext(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey).(*Claims)
	return c
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
