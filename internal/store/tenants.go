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

const tenantColumns = "id, schema_name, name, admin_email, status, settings, created_at, updated_at"

type tenantRepo struct {
	db database.DBTX
}

func scanTenant(row pgx.Row) (*models.Tenant, error) {
	var t models.Tenant
	err := row.Scan(&t.ID, &t.SchemaName, &t.Name, &t.AdminEmail, &t.Status, &t.Settings, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *tenantRepo) Create(ctx context.Context, t *models.Tenant) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Status == "" {
		t.Status = models.TenantStatusActive
	}
	t.SchemaName = strings.ToLower(t.SchemaName)

	err := r.db.QueryRow(ctx,
		`INSERT INTO tenants (id, schema_name, name, admin_email, status, settings)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at, updated_at`,
		t.ID, t.SchemaName, t.Name, strings.ToLower(t.AdminEmail), t.Status, t.Settings,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return fmt.Errorf("create tenant: %w", ErrConflict)
		}
		return fmt.Errorf("create tenant: %w", err)
	}
	return nil
}

func (r *tenantRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	t, err := scanTenant(r.db.QueryRow(ctx, "SELECT "+tenantColumns+" FROM tenants WHERE id = $1", id))
	if err != nil {
		return nil, notFound(err, "tenant")
	}
	return t, nil
}

func (r *tenantRepo) GetBySchema(ctx context.Context, schema string) (*models.Tenant, error) {
	t, err := scanTenant(r.db.QueryRow(ctx,
		"SELECT "+tenantColumns+" FROM tenants WHERE schema_name = $1", strings.ToLower(schema)))
	if err != nil {
		return nil, notFound(err, "tenant")
	}
	return t, nil
}
