package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/nikhilbhutani/tenantkit/internal/database"
	"github.com/nikhilbhutani/tenantkit/internal/models"
)

// roleRepo reaches only the tables of one tenant schema. Every statement
// qualifies its tables with the bound schema; search_path is never touched.
type roleRepo struct {
	db     database.DBTX
	schema string
}

func (r *roleRepo) Schema() string { return r.schema }

func (r *roleRepo) t(table string) string {
	return database.Table(r.schema, table)
}

func (r *roleRepo) EnsureRole(ctx context.Context, name string) (*models.Role, error) {
	role := models.Role{Permissions: []models.Permission{}}
	err := r.db.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO %s (name) VALUES ($1)
		 ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id, name, created_at`, r.t("roles")),
		name,
	).Scan(&role.ID, &role.Name, &role.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("ensure role %s: %w", name, err)
	}
	return &role, nil
}

func (r *roleRepo) GetRoles(ctx context.Context, ids []int64) ([]models.Role, error) {
	return r.queryRoles(ctx,
		fmt.Sprintf("SELECT id, name, created_at FROM %s WHERE id = ANY($1) ORDER BY id", r.t("roles")), ids)
}

func (r *roleRepo) ListRoles(ctx context.Context) ([]models.Role, error) {
	return r.queryRoles(ctx,
		fmt.Sprintf("SELECT id, name, created_at FROM %s ORDER BY id", r.t("roles")))
}

func (r *roleRepo) GrantPermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	_, err := r.db.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (role_id, permission_id)
		 SELECT $1, unnest($2::bigint[]) ON CONFLICT DO NOTHING`, r.t("role_permissions")),
		roleID, permissionIDs)
	if err != nil {
		return fmt.Errorf("grant role permissions: %w", err)
	}
	return nil
}

func (r *roleRepo) SetPermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if _, err := r.db.Exec(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE role_id = $1", r.t("role_permissions")), roleID); err != nil {
		return fmt.Errorf("clear role permissions: %w", err)
	}
	return r.GrantPermissions(ctx, roleID, permissionIDs)
}

func (r *roleRepo) AssignRoles(ctx context.Context, userID uuid.UUID, roleIDs []int64) error {
	_, err := r.db.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (user_id, role_id)
		 SELECT $1, unnest($2::bigint[]) ON CONFLICT DO NOTHING`, r.t("user_roles")),
		userID, roleIDs)
	if err != nil {
		return fmt.Errorf("assign roles: %w", err)
	}
	return nil
}

func (r *roleRepo) SetUserRoles(ctx context.Context, userID uuid.UUID, roleIDs []int64) error {
	if _, err := r.db.Exec(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE user_id = $1", r.t("user_roles")), userID); err != nil {
		return fmt.Errorf("clear user roles: %w", err)
	}
	return r.AssignRoles(ctx, userID, roleIDs)
}

func (r *roleRepo) SetUserPermissions(ctx context.Context, userID uuid.UUID, permissionIDs []int64) error {
	if _, err := r.db.Exec(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE user_id = $1", r.t("user_permissions")), userID); err != nil {
		return fmt.Errorf("clear user permissions: %w", err)
	}
	_, err := r.db.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (user_id, permission_id)
		 SELECT $1, unnest($2::bigint[]) ON CONFLICT DO NOTHING`, r.t("user_permissions")),
		userID, permissionIDs)
	if err != nil {
		return fmt.Errorf("set user permissions: %w", err)
	}
	return nil
}

func (r *roleRepo) UserRoles(ctx context.Context, userID uuid.UUID) ([]models.Role, error) {
	return r.queryRoles(ctx,
		fmt.Sprintf(`SELECT r.id, r.name, r.created_at FROM %s r
		 JOIN %s ur ON ur.role_id = r.id
		 WHERE ur.user_id = $1 ORDER BY r.id`, r.t("roles"), r.t("user_roles")),
		userID)
}

func (r *roleRepo) UserPermissions(ctx context.Context, userID uuid.UUID) ([]models.Permission, error) {
	rows, err := r.db.Query(ctx,
		fmt.Sprintf(`SELECT p.id, p.codename, p.name FROM public.permissions p
		 JOIN %s up ON up.permission_id = p.id
		 WHERE up.user_id = $1 ORDER BY p.id`, r.t("user_permissions")),
		userID)
	if err != nil {
		return nil, fmt.Errorf("query user permissions: %w", err)
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

func (r *roleRepo) ListUserRoles(ctx context.Context) ([]UserRoles, error) {
	rows, err := r.db.Query(ctx,
		fmt.Sprintf("SELECT DISTINCT user_id FROM %s ORDER BY user_id", r.t("user_roles")))
	if err != nil {
		return nil, fmt.Errorf("list user roles: %w", err)
	}
	userIDs, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("scan user id: %w", err)
	}

	out := make([]UserRoles, 0, len(userIDs))
	for _, id := range userIDs {
		roles, err := r.UserRoles(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, UserRoles{UserID: id, Roles: roles})
	}
	return out, nil
}

func (r *roleRepo) ListUserPermissions(ctx context.Context) ([]UserPermissions, error) {
	rows, err := r.db.Query(ctx,
		fmt.Sprintf("SELECT DISTINCT user_id FROM %s ORDER BY user_id", r.t("user_permissions")))
	if err != nil {
		return nil, fmt.Errorf("list user permissions: %w", err)
	}
	userIDs, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("scan user id: %w", err)
	}

	out := make([]UserPermissions, 0, len(userIDs))
	for _, id := range userIDs {
		perms, err := r.UserPermissions(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, UserPermissions{UserID: id, Permissions: perms})
	}
	return out, nil
}

func (r *roleRepo) HasAnyRole(ctx context.Context, userID uuid.UUID, names []string) (bool, error) {
	var ok bool
	err := r.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT EXISTS(
			SELECT 1 FROM %s ur JOIN %s r ON r.id = ur.role_id
			WHERE ur.user_id = $1 AND r.name = ANY($2))`, r.t("user_roles"), r.t("roles")),
		userID, names).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check roles: %w", err)
	}
	return ok, nil
}

func (r *roleRepo) HasAnyPermission(ctx context.Context, userID uuid.UUID, codenames []string) (bool, error) {
	var ok bool
	err := r.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT EXISTS(
			SELECT 1 FROM %s ur
			JOIN %s rp ON rp.role_id = ur.role_id
			JOIN public.permissions p ON p.id = rp.permission_id
			WHERE ur.user_id = $1 AND p.codename = ANY($2)
			UNION ALL
			SELECT 1 FROM %s up
			JOIN public.permissions p ON p.id = up.permission_id
			WHERE up.user_id = $1 AND p.codename = ANY($2))`,
			r.t("user_roles"), r.t("role_permissions"), r.t("user_permissions")),
		userID, codenames).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check permissions: %w", err)
	}
	return ok, nil
}

func (r *roleRepo) queryRoles(ctx context.Context, sql string, args ...any) ([]models.Role, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query roles: %w", err)
	}

	roles := []models.Role{}
	for rows.Next() {
		role := models.Role{Permissions: []models.Permission{}}
		if err := rows.Scan(&role.ID, &role.Name, &role.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan role: %w", err)
		}
		roles = append(roles, role)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query roles: %w", err)
	}

	if err := r.attachPermissions(ctx, roles); err != nil {
		return nil, err
	}
	return roles, nil
}

func (r *roleRepo) attachPermissions(ctx context.Context, roles []models.Role) error {
	if len(roles) == 0 {
		return nil
	}
	index := make(map[int64]int, len(roles))
	ids := make([]int64, len(roles))
	for i, role := range roles {
		index[role.ID] = i
		ids[i] = role.ID
	}

	rows, err := r.db.Query(ctx,
		fmt.Sprintf(`SELECT rp.role_id, p.id, p.codename, p.name
		 FROM %s rp JOIN public.permissions p ON p.id = rp.permission_id
		 WHERE rp.role_id = ANY($1) ORDER BY p.id`, r.t("role_permissions")),
		ids)
	if err != nil {
		return fmt.Errorf("query role permissions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var roleID int64
		var p models.Permission
		if err := rows.Scan(&roleID, &p.ID, &p.Codename, &p.Name); err != nil {
			return fmt.Errorf("scan role permission: %w", err)
		}
		i := index[roleID]
		roles[i].Permissions = append(roles[i].Permissions, p)
	}
	return rows.Err()
}
