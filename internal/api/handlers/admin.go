package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nikhilbhutani/tenantkit/internal/audit"
	"github.com/nikhilbhutani/tenantkit/internal/respond"
	"github.com/nikhilbhutani/tenantkit/internal/store"
)

type AdminHandler struct {
	auditSvc *audit.Service
}

func NewAdminHandler(auditSvc *audit.Service) *AdminHandler {
	return &AdminHandler{auditSvc: auditSvc}
}

// AuditLogs lists the bound tenant's audit trail. Filters are action,
// start_date and end_date (RFC 3339), limit and offset.
func (h *AdminHandler) AuditLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	q := store.AuditQuery{Action: query.Get("action")}

	q.Limit, _ = strconv.Atoi(query.Get("limit"))
	q.Offset, _ = strconv.Atoi(query.Get("offset"))
	if q.Limit <= 0 || q.Limit > 500 {
		q.Limit = 50
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	if s := query.Get("start_date"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			q.StartDate = &t
		}
	}
	if s := query.Get("end_date"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			q.EndDate = &t
		}
	}

	logs, err := h.auditSvc.List(r.Context(), q)
	if err != nil {
		respond.Error(w, r, err, http.StatusInternalServerError)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"audit_logs": logs, "count": len(logs)})
}
