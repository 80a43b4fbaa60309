package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nikhilbhutani/tenantkit/internal/database"
)

const pgUniqueViolation = "23505"

// Postgres is the pgx-backed Store.
type Postgres struct {
	pool *pgxpool.Pool
	repos
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, repos: repos{db: pool}}
}

func (p *Postgres) InTx(ctx context.Context, fn func(Tx) error) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		return fn(&pgTx{repos: repos{db: tx}})
	})
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

type pgTx struct {
	repos
}

func (t *pgTx) ProvisionSchema(ctx context.Context, schema string) error {
	return database.ProvisionTenantSchema(ctx, t.db, schema)
}

// repos hands out repositories sharing one connection or transaction.
type repos struct {
	db database.DBTX
}

func (r repos) Users() Users             { return &userRepo{db: r.db} }
func (r repos) Tenants() Tenants         { return &tenantRepo{db: r.db} }
func (r repos) Invitations() Invitations { return &invitationRepo{db: r.db} }
func (r repos) Permissions() Permissions { return &permissionRepo{db: r.db} }
func (r repos) AuditLogs() AuditLogs     { return &auditRepo{db: r.db} }
func (r repos) Roles(schema string) Roles {
	return &roleRepo{db: r.db, schema: schema}
}

func uniqueViolation(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return pgErr, true
	}
	return nil, false
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("get %s: %w", what, err)
}
