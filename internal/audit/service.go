// Package audit records who did what inside a tenant. Writes are best
// effort from the caller's point of view: the audited operation has already
// committed when Log runs.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/netip"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/tenantkit/internal/models"
	"github.com/nikhilbhutani/tenantkit/internal/store"
	"github.com/nikhilbhutani/tenantkit/internal/tenant"
)

type Service struct {
	logs store.AuditLogs
}

func NewService(logs store.AuditLogs) *Service {
	return &Service{logs: logs}
}

type LogEntry struct {
	// TenantID overrides the tenant bound to ctx, for events that create or
	// act on a tenant other than the request's.
	TenantID     *uuid.UUID
	Action       string
	ResourceType string
	ResourceID   string
	Details      map[string]any
	IPAddress    string
}

func (s *Service) Log(ctx context.Context, entry LogEntry) error {
	tenantID := entry.TenantID
	if tenantID == nil {
		if id := tenant.IDFromContext(ctx); id != uuid.Nil {
			tenantID = &id
		}
	}

	var userID *uuid.UUID
	if user := tenant.UserFromContext(ctx); user != nil {
		userID = &user.ID
	}

	var details json.RawMessage
	if len(entry.Details) > 0 {
		raw, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
		details = raw
	}

	var ip *netip.Addr
	if entry.IPAddress != "" {
		if parsed, err := netip.ParseAddr(entry.IPAddress); err == nil {
			ip = &parsed
		}
	}

	err := s.logs.Insert(ctx, &models.AuditLog{
		TenantID:     tenantID,
		UserID:       userID,
		Action:       entry.Action,
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		Details:      details,
		IPAddress:    ip,
	})
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// List returns the audit trail of the tenant bound to ctx, newest first.
func (s *Service) List(ctx context.Context, q store.AuditQuery) ([]models.AuditLog, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	logs, err := s.logs.List(ctx, tenant.IDFromContext(ctx), q)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	if logs == nil {
		logs = []models.AuditLog{}
	}
	return logs, nil
}
