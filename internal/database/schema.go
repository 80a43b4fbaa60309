package database

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
)

const PublicSchema = "public"

var (
	schemaNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{1,62}$`)
	nonSlugChars      = regexp.MustCompile(`[^a-z0-9]+`)

	ErrInvalidSchemaName = errors.New("schema name must be 2-63 lowercase letters, digits or underscores and start with a letter")
	ErrReservedSchema    = errors.New("schema name is reserved")
)

// ValidateSchemaName rejects names that cannot serve as a tenant schema.
func ValidateSchemaName(name string) error {
	if !schemaNamePattern.MatchString(name) {
		return ErrInvalidSchemaName
	}
	if name == PublicSchema || name == "information_schema" || strings.HasPrefix(name, "pg_") {
		return ErrReservedSchema
	}
	return nil
}

// SchemaNameFrom derives a schema name from a display name, e.g.
// "Acme Corp." becomes "acme_corp". The result may still fail validation.
func SchemaNameFrom(name string) string {
	s := nonSlugChars.ReplaceAllString(strings.ToLower(name), "_")
	s = strings.Trim(s, "_")
	if s != "" && (s[0] >= '0' && s[0] <= '9') {
		s = "t_" + s
	}
	if len(s) > 63 {
		s = strings.TrimRight(s[:63], "_")
	}
	return s
}

// Table returns the quoted, schema-qualified name of a tenant table.
func Table(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}

// ProvisionTenantSchema creates the schema and the tenant-scoped tables. It
// is meant to run inside the tenant bootstrap transaction so a later failure
// drops the schema with everything else.
func ProvisionTenantSchema(ctx context.Context, db DBTX, schema string) error {
	if err := ValidateSchemaName(schema); err != nil {
		return err
	}

	stmts := []string{
		"CREATE SCHEMA " + pgx.Identifier{schema}.Sanitize(),
		fmt.Sprintf(`CREATE TABLE %s (
			id BIGSERIAL PRIMARY KEY,
			name VARCHAR(255) NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, Table(schema, "roles")),
		fmt.Sprintf(`CREATE TABLE %s (
			role_id BIGINT NOT NULL REFERENCES %s (id) ON DELETE CASCADE,
			permission_id BIGINT NOT NULL REFERENCES public.permissions (id) ON DELETE CASCADE,
			PRIMARY KEY (role_id, permission_id)
		)`, Table(schema, "role_permissions"), Table(schema, "roles")),
		fmt.Sprintf(`CREATE TABLE %s (
			user_id UUID NOT NULL REFERENCES public.users (id) ON DELETE CASCADE,
			role_id BIGINT NOT NULL REFERENCES %s (id) ON DELETE CASCADE,
			PRIMARY KEY (user_id, role_id)
		)`, Table(schema, "user_roles"), Table(schema, "roles")),
		fmt.Sprintf(`CREATE TABLE %s (
			user_id UUID NOT NULL REFERENCES public.users (id) ON DELETE CASCADE,
			permission_id BIGINT NOT NULL REFERENCES public.permissions (id) ON DELETE CASCADE,
			PRIMARY KEY (user_id, permission_id)
		)`, Table(schema, "user_permissions")),
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("provision schema %s: %w", schema, err)
		}
	}
	return nil
}
