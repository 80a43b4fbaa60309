package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/nikhilbhutani/tenantkit/internal/database"
	"github.com/nikhilbhutani/tenantkit/internal/models"
)

const userColumns = `id, email, password_hash, first_name, middle_name, last_name,
	is_verified, is_active, is_staff, is_superuser, created_at, updated_at`

type userRepo struct {
	db database.DBTX
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.MiddleName, &u.LastName,
		&u.IsVerified, &u.IsActive, &u.IsStaff, &u.IsSuperuser, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepo) Create(ctx context.Context, u *models.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.Email = strings.ToLower(u.Email)

	err := r.db.QueryRow(ctx,
		`INSERT INTO users (id, email, password_hash, first_name, middle_name, last_name,
			is_verified, is_active, is_staff, is_superuser)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING created_at, updated_at`,
		u.ID, u.Email, u.PasswordHash, u.FirstName, u.MiddleName, u.LastName,
		u.IsVerified, u.IsActive, u.IsStaff, u.IsSuperuser,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return fmt.Errorf("create user: %w", ErrConflict)
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id))
	if err != nil {
		return nil, notFound(err, "user")
	}
	return u, nil
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE email = $1", strings.ToLower(email)))
	if err != nil {
		return nil, notFound(err, "user")
	}
	return u, nil
}

func (r *userRepo) SetVerified(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, "UPDATE users SET is_verified = TRUE, updated_at = now() WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("verify user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("verify user: %w", ErrNotFound)
	}
	return nil
}

func (r *userRepo) SetPassword(ctx context.Context, id uuid.UUID, hash string) error {
	tag, err := r.db.Exec(ctx, "UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1", id, hash)
	if err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set password: %w", ErrNotFound)
	}
	return nil
}

func (r *userRepo) AddTenant(ctx context.Context, userID, tenantID uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		"INSERT INTO user_tenants (user_id, tenant_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		userID, tenantID)
	if err != nil {
		return fmt.Errorf("add tenant membership: %w", err)
	}
	return nil
}

func (r *userRepo) IsMember(ctx context.Context, userID, tenantID uuid.UUID) (bool, error) {
	var ok bool
	err := r.db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM user_tenants WHERE user_id = $1 AND tenant_id = $2)",
		userID, tenantID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return ok, nil
}

func (r *userRepo) ListTenants(ctx context.Context, userID uuid.UUID) ([]models.Tenant, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+prefixed("t", tenantColumns)+`
		 FROM tenants t JOIN user_tenants ut ON ut.tenant_id = t.id
		 WHERE ut.user_id = $1
		 ORDER BY t.created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user tenants: %w", err)
	}
	defer rows.Close()

	tenants := []models.Tenant{}
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		tenants = append(tenants, *t)
	}
	return tenants, rows.Err()
}

// prefixed qualifies each column of a comma separated list with alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
