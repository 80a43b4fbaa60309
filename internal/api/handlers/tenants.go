package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/nikhilbhutani/tenantkit/internal/apperr"
	"github.com/nikhilbhutani/tenantkit/internal/auth"
	"github.com/nikhilbhutani/tenantkit/internal/invitation"
	"github.com/nikhilbhutani/tenantkit/internal/models"
	"github.com/nikhilbhutani/tenantkit/internal/respond"
	"github.com/nikhilbhutani/tenantkit/internal/tenant"
)

type TenantHandler struct {
	invitations *invitation.Service
	appScheme   string
}

func NewTenantHandler(invitations *invitation.Service, appScheme string) *TenantHandler {
	return &TenantHandler{invitations: invitations, appScheme: appScheme}
}

// invitationError answers workflow failures. Anything outside the error
// taxonomy is logged and hidden behind a generic 400.
func invitationError(w http.ResponseWriter, r *http.Request, err error) {
	respond.Error(w, r, err, http.StatusBadRequest)
}

func (h *TenantHandler) List(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.invitations.ListTenants(r.Context(), tenant.UserFromContext(r.Context()))
	if err != nil {
		respond.Error(w, r, err, http.StatusInternalServerError)
		return
	}
	respond.JSON(w, http.StatusOK, tenants)
}

type createTenantRequest struct {
	invitation.CreateTenantInput
	RedirectURL string `json:"redirect_url"`
}

func (h *TenantHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if !decode(w, r, &req) {
		return
	}

	t, err := h.invitations.CreateTenant(r.Context(), tenant.UserFromContext(r.Context()), req.CreateTenantInput, invitation.Link{
		BaseURL:     baseURL(r),
		RedirectURL: req.RedirectURL,
	})
	if err != nil {
		invitationError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, map[string]any{
		"data":   "we have sent you an invitation with the information.",
		"tenant": t,
	})
}

type inviteRequest struct {
	invitation.InviteInput
	RedirectURL string `json:"redirect_url"`
	FallbackURL string `json:"fallback_url"`
}

func (h *TenantHandler) Invite(w http.ResponseWriter, r *http.Request) {
	var req inviteRequest
	if !decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	inv, err := h.invitations.Invite(ctx, tenant.FromContext(ctx), tenant.UserFromContext(ctx), req.InviteInput, invitation.Link{
		BaseURL:     baseURL(r),
		RedirectURL: req.RedirectURL,
		FallbackURL: req.FallbackURL,
	})
	if err != nil {
		invitationError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, invitationView(inv))
}

func (h *TenantHandler) Pending(w http.ResponseWriter, r *http.Request) {
	invs, err := h.invitations.ListPending(r.Context(), tenant.UserFromContext(r.Context()))
	if err != nil {
		invitationError(w, r, err)
		return
	}
	out := make([]map[string]any, len(invs))
	for i := range invs {
		out[i] = invitationView(&invs[i])
	}
	respond.JSON(w, http.StatusOK, out)
}

// AcceptManual redeems a code the signed-in user typed in.
func (h *TenantHandler) AcceptManual(w http.ResponseWriter, r *http.Request) {
	inv, err := h.invitations.AcceptForUser(r.Context(), tenant.UserFromContext(r.Context()), chi.URLParam(r, "token"))
	if err != nil {
		invitationError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{
		"message":    "Invitation accepted successfully",
		"invitation": invitationView(inv),
	})
}

// Accept is the target of the invitation email link. With redirect_url the
// outcome travels as query parameters; failures go to fallback_url when one
// was given.
func (h *TenantHandler) Accept(w http.ResponseWriter, r *http.Request) {
	redirect := r.URL.Query().Get("redirect_url")
	fallback := r.URL.Query().Get("fallback_url")
	for _, target := range []string{redirect, fallback} {
		if err := auth.CheckRedirect(target, h.appScheme); err != nil {
			respond.Error(w, r, err, http.StatusBadRequest)
			return
		}
	}
	if fallback == "" {
		fallback = redirect
	}

	raw := chi.URLParam(r, "token")
	token, err := invitation.DecodeToken(raw)
	if err == nil {
		_, err = h.invitations.Redeem(r.Context(), token)
	}
	if err != nil {
		msg := "Invalid invitation link"
		if e, ok := apperr.As(err); ok {
			msg = e.Message
		} else if token != "" {
			slog.ErrorContext(r.Context(), "redeem invitation", "error", err)
		}
		if fallback != "" {
			params := url.Values{"token_valid": {"False"}, "message": {msg}}
			// The invitee has to sign up first; hand the link token back so
			// the client can retry the accept afterwards.
			if errors.Is(err, invitation.ErrUnknownUser) {
				params.Set("account_does_not_exist", "True")
				params.Set("accept_token", raw)
			}
			redirectWith(w, r, fallback, params)
			return
		}
		respond.Detail(w, http.StatusBadRequest, msg)
		return
	}

	if redirect != "" {
		redirectWith(w, r, redirect, url.Values{"token_valid": {"True"}, "message": {"Invitation accepted"}})
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"message": "Invitation accepted"})
}

// invitationView omits the token; it is a credential.
func invitationView(inv *models.Invitation) map[string]any {
	return map[string]any{
		"id":          inv.ID,
		"tenant_id":   inv.TenantID,
		"email":       inv.Email,
		"invited_by":  inv.InvitedBy,
		"is_accepted": inv.IsAccepted,
		"accepted_at": inv.AcceptedAt,
		"created_at":  inv.CreatedAt,
	}
}
