package store

import (
	"context"
	"fmt"

	"github.com/nikhilbhutani/tenantkit/internal/database"
	"github.com/nikhilbhutani/tenantkit/internal/models"
)

type permissionRepo struct {
	db database.DBTX
}

func (r *permissionRepo) List(ctx context.Context) ([]models.Permission, error) {
	return r.query(ctx, "SELECT id, codename, name FROM permissions ORDER BY id")
}

func (r *permissionRepo) GetByCodenames(ctx context.Context, codenames []string) ([]models.Permission, error) {
	return r.query(ctx, "SELECT id, codename, name FROM permissions WHERE codename = ANY($1) ORDER BY id", codenames)
}

func (r *permissionRepo) GetByIDs(ctx context.Context, ids []int64) ([]models.Permission, error) {
	return r.query(ctx, "SELECT id, codename, name FROM permissions WHERE id = ANY($1) ORDER BY id", ids)
}

func (r *permissionRepo) query(ctx context.Context, sql string, args ...any) ([]models.Permission, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query permissions: %w", err)
	}
	defer rows.Close()

	perms := []models.Permission{}
	for rows.Next() {
		var p models.Permission
		if err := rows.Scan(&p.ID, &p.Codename, &p.Name); err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}
