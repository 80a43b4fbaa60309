package handlers

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/nikhilbhutani/tenantkit/internal/account"
	"github.com/nikhilbhutani/tenantkit/internal/apperr"
	"github.com/nikhilbhutani/tenantkit/internal/auth"
	"github.com/nikhilbhutani/tenantkit/internal/models"
	"github.com/nikhilbhutani/tenantkit/internal/respond"
)

type AuthHandler struct {
	accounts  *account.Service
	appScheme string
}

func NewAuthHandler(accounts *account.Service, appScheme string) *AuthHandler {
	return &AuthHandler{accounts: accounts, appScheme: appScheme}
}

type registerRequest struct {
	account.RegisterInput
	RedirectURL string `json:"redirect_url"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}

	_, err := h.accounts.Register(r.Context(), req.RegisterInput, account.Link{
		BaseURL:     baseURL(r),
		RedirectURL: req.RedirectURL,
	})
	if err != nil {
		respond.Error(w, r, err, http.StatusInternalServerError)
		return
	}
	respond.JSON(w, http.StatusCreated, map[string]string{"message": "Registered Account"})
}

func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	redirect := r.URL.Query().Get("redirect_url")
	if err := auth.CheckRedirect(redirect, h.appScheme); err != nil {
		respond.Error(w, r, err, http.StatusBadRequest)
		return
	}

	_, pair, err := h.accounts.VerifyEmail(r.Context(), token)
	if err != nil {
		if e, ok := apperr.As(err); ok && e.Kind == apperr.KindValidation {
			respond.JSON(w, http.StatusBadRequest, map[string]string{"error": e.Message})
			return
		}
		respond.Error(w, r, err, http.StatusInternalServerError)
		return
	}

	if redirect != "" {
		redirectWith(w, r, redirect, url.Values{
			"access_token":  {pair.Access},
			"refresh_token": {pair.Refresh},
		})
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"email": "Successfully activated"})
}

type loginResponse struct {
	ID         string          `json:"id"`
	Email      string          `json:"email"`
	FirstName  string          `json:"first_name"`
	MiddleName *string         `json:"middle_name"`
	LastName   string          `json:"last_name"`
	Tokens     *auth.TokenPair `json:"tokens"`
	Tenant     []models.Tenant `json:"tenant"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req account.LoginInput
	if !decode(w, r, &req) {
		return
	}

	s, err := h.accounts.Login(r.Context(), req)
	if err != nil {
		respond.Error(w, r, err, http.StatusInternalServerError)
		return
	}
	respond.JSON(w, http.StatusOK, loginResponse{
		ID:         s.User.ID.String(),
		Email:      s.User.Email,
		FirstName:  s.User.FirstName,
		MiddleName: s.User.MiddleName,
		LastName:   s.User.LastName,
		Tokens:     s.Tokens,
		Tenant:     s.Tenants,
	})
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.accounts.Logout(r.Context(), auth.ClaimsFromContext(r.Context()), req.Refresh); err != nil {
		respond.Error(w, r, err, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decode(w, r, &req) {
		return
	}
	pair, err := h.accounts.Refresh(r.Context(), req.Refresh)
	if err != nil {
		respond.Error(w, r, err, http.StatusInternalServerError)
		return
	}
	respond.JSON(w, http.StatusOK, pair)
}

type resetEmailRequest struct {
	Email       string `json:"email"`
	RedirectURL string `json:"redirect_url"`
}

func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req resetEmailRequest
	if !decode(w, r, &req) {
		return
	}
	err := h.accounts.RequestPasswordReset(r.Context(), req.Email, account.Link{
		BaseURL:     baseURL(r),
		RedirectURL: req.RedirectURL,
	})
	if err != nil {
		respond.Error(w, r, err, http.StatusInternalServerError)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"message": "We Have Sent you an Email"})
}

// CheckResetToken is the target of the reset email link. With a
// redirect_url the outcome travels as query parameters.
func (h *AuthHandler) CheckResetToken(w http.ResponseWriter, r *http.Request) {
	uidb64 := chi.URLParam(r, "uidb64")
	token := chi.URLParam(r, "token")
	redirect := r.URL.Query().Get("redirect_url")
	if err := auth.CheckRedirect(redirect, h.appScheme); err != nil {
		respond.Error(w, r, err, http.StatusBadRequest)
		return
	}

	err := h.accounts.CheckResetToken(r.Context(), uidb64, token)
	if err != nil {
		if _, ok := apperr.As(err); !ok {
			respond.Error(w, r, err, http.StatusInternalServerError)
			return
		}
		if redirect != "" {
			redirectWith(w, r, redirect, url.Values{"token_valid": {"False"}})
			return
		}
		respond.JSON(w, http.StatusUnauthorized, map[string]string{"error": auth.ErrResetLinkInvalid.Error()})
		return
	}

	if redirect != "" {
		redirectWith(w, r, redirect, url.Values{
			"token_valid": {"True"},
			"message":     {"Credentials Valid"},
			"uidb64":      {uidb64},
			"token":       {token},
		})
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Credentials Valid",
		"uidb64":  uidb64,
		"token":   token,
	})
}

func (h *AuthHandler) CompletePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req account.ResetInput
	if !decode(w, r, &req) {
		return
	}
	if err := h.accounts.CompleteReset(r.Context(), req); err != nil {
		respond.Error(w, r, err, http.StatusInternalServerError)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"success": true, "message": "Password reset success"})
}
