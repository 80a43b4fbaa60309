package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/tenantkit/internal/database"
	"github.com/nikhilbhutani/tenantkit/internal/models"
)

type auditRepo struct {
	db database.DBTX
}

func (r *auditRepo) Insert(ctx context.Context, e *models.AuditLog) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if len(e.Details) == 0 {
		e.Details = []byte("{}")
	}

	err := r.db.QueryRow(ctx,
		`INSERT INTO audit_logs (id, tenant_id, user_id, action, resource_type, resource_id, details, ip_address)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING created_at`,
		e.ID, e.TenantID, e.UserID, e.Action, e.ResourceType, e.ResourceID, e.Details, e.IPAddress,
	).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func (r *auditRepo) List(ctx context.Context, tenantID uuid.UUID, q AuditQuery) ([]models.AuditLog, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}

	query := `SELECT id, tenant_id, user_id, action, COALESCE(resource_type, ''), COALESCE(resource_id, ''),
			  details, ip_address, created_at
			  FROM audit_logs WHERE tenant_id = $1`
	args := []any{tenantID}
	argIdx := 2

	if q.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", argIdx)
		args = append(args, q.Action)
		argIdx++
	}
	if q.StartDate != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *q.StartDate)
		argIdx++
	}
	if q.EndDate != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *q.EndDate)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, q.Limit, q.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	logs := []models.AuditLog{}
	for rows.Next() {
		var l models.AuditLog
		if err := rows.Scan(&l.ID, &l.TenantID, &l.UserID, &l.Action, &l.ResourceType, &l.ResourceID,
			&l.Details, &l.IPAddress, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
