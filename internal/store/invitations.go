package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/nikhilbhutani/tenantkit/internal/database"
	"github.com/nikhilbhutani/tenantkit/internal/models"
)

const invitationColumns = "id, tenant_id, email, token, invited_by, is_accepted, accepted_at, created_at"

type invitationRepo struct {
	db database.DBTX
}

func scanInvitation(row pgx.Row) (*models.Invitation, error) {
	var inv models.Invitation
	err := row.Scan(&inv.ID, &inv.TenantID, &inv.Email, &inv.Token, &inv.InvitedBy,
		&inv.IsAccepted, &inv.AcceptedAt, &inv.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *invitationRepo) Create(ctx context.Context, inv *models.Invitation) error {
	inv.Email = strings.ToLower(inv.Email)

	// A unique violation aborts the enclosing transaction; the savepoint
	// keeps it usable so the caller can retry with another token.
	err := pgx.BeginFunc(ctx, r.db, func(sp pgx.Tx) error {
		return sp.QueryRow(ctx,
			`INSERT INTO invitations (tenant_id, email, token, invited_by, is_accepted, accepted_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING id, created_at`,
			inv.TenantID, inv.Email, inv.Token, inv.InvitedBy, inv.IsAccepted, inv.AcceptedAt,
		).Scan(&inv.ID, &inv.CreatedAt)
	})
	if err != nil {
		if pgErr, ok := uniqueViolation(err); ok {
			if pgErr.ConstraintName == "invitations_pending_token_key" {
				return fmt.Errorf("create invitation: %w", ErrTokenTaken)
			}
			return fmt.Errorf("create invitation: %w", ErrConflict)
		}
		return fmt.Errorf("create invitation: %w", err)
	}
	return nil
}

func (r *invitationRepo) Exists(ctx context.Context, tenantID uuid.UUID, email string) (bool, error) {
	var ok bool
	err := r.db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM invitations WHERE tenant_id = $1 AND email = $2)",
		tenantID, strings.ToLower(email)).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check invitation: %w", err)
	}
	return ok, nil
}

func (r *invitationRepo) FindForUpdate(ctx context.Context, token, email string) (*models.Invitation, error) {
	inv, err := scanInvitation(r.db.QueryRow(ctx,
		`SELECT `+invitationColumns+` FROM invitations
		 WHERE token = $1 AND ($2 = '' OR email = $2)
		 ORDER BY is_accepted ASC, created_at DESC
		 LIMIT 1
		 FOR UPDATE`,
		token, strings.ToLower(email)))
	if err != nil {
		return nil, notFound(err, "invitation")
	}
	return inv, nil
}

func (r *invitationRepo) MarkAccepted(ctx context.Context, id int64, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		"UPDATE invitations SET is_accepted = TRUE, accepted_at = $2 WHERE id = $1 AND NOT is_accepted",
		id, at)
	if err != nil {
		return fmt.Errorf("accept invitation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("accept invitation: %w", ErrNotFound)
	}
	return nil
}

func (r *invitationRepo) ListPending(ctx context.Context, email string) ([]models.Invitation, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+invitationColumns+` FROM invitations
		 WHERE email = $1 AND NOT is_accepted
		 ORDER BY created_at DESC`, strings.ToLower(email))
	if err != nil {
		return nil, fmt.Errorf("list pending invitations: %w", err)
	}
	defer rows.Close()

	invs := []models.Invitation{}
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invitation: %w", err)
		}
		invs = append(invs, *inv)
	}
	return invs, rows.Err()
}
