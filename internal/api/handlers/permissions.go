package handlers

import (
	"net/http"

	"github.com/nikhilbhutani/tenantkit/internal/permissions"
	"github.com/nikhilbhutani/tenantkit/internal/respond"
	"github.com/nikhilbhutani/tenantkit/internal/tenant"
)

type PermissionHandler struct {
	perms *permissions.Service
}

func NewPermissionHandler(perms *permissions.Service) *PermissionHandler {
	return &PermissionHandler{perms: perms}
}

func (h *PermissionHandler) Catalog(w http.ResponseWriter, r *http.Request) {
	perms, err := h.perms.Catalog(r.Context())
	if err != nil {
		respond.Error(w, r, err, http.StatusInternalServerError)
		return
	}
	respond.JSON(w, http.StatusOK, perms)
}

func (h *PermissionHandler) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.perms.ListRoles(r.Context())
	if err != nil {
		respond.Error(w, r, err, http.StatusInternalServerError)
		return
	}
	respond.JSON(w, http.StatusOK, roles)
}

func (h *PermissionHandler) SaveRole(w http.ResponseWriter, r *http.Request) {
	var req permissions.RoleInput
	if !decode(w, r, &req) {
		return
	}
	role, err := h.perms.SaveRole(r.Context(), req)
	if err != nil {
		respond.Error(w, r, err, http.StatusInternalServerError)
		return
	}
	respond.JSON(w, http.StatusCreated, role)
}

func (h *PermissionHandler) ListUserRoles(w http.ResponseWriter, r *http.Request) {
	out, err := h.perms.ListUserRoles(r.Context())
	if err != nil {
		respond.Error(w, r, err, http.StatusInternalServerError)
		return
	}
	respond.JSON(w, http.StatusOK, out)
}

func (h *PermissionHandler) SetUserRoles(w http.ResponseWriter, r *http.Request) {
	var req permissions.UserRolesInput
	if !decode(w, r, &req) {
		return
	}
	out, err := h.perms.SetUserRoles(r.Context(), req)
	if err != nil {
		respond.Error(w, r, err, http.StatusInternalServerError)
		return
	}
	respond.JSON(w, http.StatusOK, out)
}

func (h *PermissionHandler) ListUserPermissions(w http.ResponseWriter, r *http.Request) {
	out, err := h.perms.ListUserPermissions(r.Context())
	if err != nil {
		respond.Error(w, r, err, http.StatusInternalServerError)
		return
	}
	respond.JSON(w, http.StatusOK, out)
}

func (h *PermissionHandler) SetUserPermissions(w http.ResponseWriter, r *http.Request) {
	var req permissions.UserPermissionsInput
	if !decode(w, r, &req) {
		return
	}
	out, err := h.perms.SetUserPermissions(r.Context(), req)
	if err != nil {
		respond.Error(w, r, err, http.StatusInternalServerError)
		return
	}
	respond.JSON(w, http.StatusOK, out)
}

func (h *PermissionHandler) Me(w http.ResponseWriter, r *http.Request) {
	me, err := h.perms.Me(r.Context(), tenant.UserFromContext(r.Context()))
	if err != nil {
		respond.Error(w, r, err, http.StatusInternalServerError)
		return
	}
	respond.JSON(w, http.StatusOK, me)
}
