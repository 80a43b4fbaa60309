// Package store defines one repository per entity and the transaction
// boundary that groups them. Shared entities (users, tenants, invitations,
// permissions) live in the public schema; Roles is always bound to one
// tenant schema at construction.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/tenantkit/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
	// ErrTokenTaken is returned when another pending invitation already holds
	// the generated token.
	ErrTokenTaken = errors.New("invitation token in use")
)

type Users interface {
	Create(ctx context.Context, u *models.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	SetVerified(ctx context.Context, id uuid.UUID) error
	SetPassword(ctx context.Context, id uuid.UUID, hash string) error
	AddTenant(ctx context.Context, userID, tenantID uuid.UUID) error
	IsMember(ctx context.Context, userID, tenantID uuid.UUID) (bool, error)
	ListTenants(ctx context.Context, userID uuid.UUID) ([]models.Tenant, error)
}

type Tenants interface {
	Create(ctx context.Context, t *models.Tenant) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	// GetBySchema matches the schema name case-insensitively.
	GetBySchema(ctx context.Context, schema string) (*models.Tenant, error)
}

type Invitations interface {
	Create(ctx context.Context, inv *models.Invitation) error
	Exists(ctx context.Context, tenantID uuid.UUID, email string) (bool, error)
	// FindForUpdate locks and returns the invitation holding token. A pending
	// match wins over accepted ones. An empty email matches any invitee.
	FindForUpdate(ctx context.Context, token, email string) (*models.Invitation, error)
	MarkAccepted(ctx context.Context, id int64, at time.Time) error
	ListPending(ctx context.Context, email string) ([]models.Invitation, error)
}

type Permissions interface {
	List(ctx context.Context) ([]models.Permission, error)
	GetByCodenames(ctx context.Context, codenames []string) ([]models.Permission, error)
	GetByIDs(ctx context.Context, ids []int64) ([]models.Permission, error)
}

type UserRoles struct {
	UserID uuid.UUID     `json:"user"`
	Roles  []models.Role `json:"roles"`
}

type UserPermissions struct {
	UserID      uuid.UUID           `json:"user"`
	Permissions []models.Permission `json:"permissions"`
}

// Roles is the tenant-scoped RBAC repository.
type Roles interface {
	Schema() string
	EnsureRole(ctx context.Context, name string) (*models.Role, error)
	GetRoles(ctx context.Context, ids []int64) ([]models.Role, error)
	ListRoles(ctx context.Context) ([]models.Role, error)
	GrantPermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
	SetPermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
	AssignRoles(ctx context.Context, userID uuid.UUID, roleIDs []int64) error
	SetUserRoles(ctx context.Context, userID uuid.UUID, roleIDs []int64) error
	SetUserPermissions(ctx context.Context, userID uuid.UUID, permissionIDs []int64) error
	UserRoles(ctx context.Context, userID uuid.UUID) ([]models.Role, error)
	UserPermissions(ctx context.Context, userID uuid.UUID) ([]models.Permission, error)
	ListUserRoles(ctx context.Context) ([]UserRoles, error)
	ListUserPermissions(ctx context.Context) ([]UserPermissions, error)
	HasAnyRole(ctx context.Context, userID uuid.UUID, names []string) (bool, error)
	// HasAnyPermission considers role-granted and direct permissions.
	HasAnyPermission(ctx context.Context, userID uuid.UUID, codenames []string) (bool, error)
}

// AuditQuery filters a tenant's audit trail. Zero values mean no filter.
type AuditQuery struct {
	Action    string
	StartDate *time.Time
	EndDate   *time.Time
	Limit     int
	Offset    int
}

type AuditLogs interface {
	Insert(ctx context.Context, entry *models.AuditLog) error
	List(ctx context.Context, tenantID uuid.UUID, q AuditQuery) ([]models.AuditLog, error)
}

type Repos interface {
	Users() Users
	Tenants() Tenants
	Invitations() Invitations
	Permissions() Permissions
	AuditLogs() AuditLogs
	Roles(schema string) Roles
}

type Tx interface {
	Repos
	ProvisionSchema(ctx context.Context, schema string) error
}

type Store interface {
	Repos
	// InTx runs fn in a single transaction. Any error returned by fn rolls
	// back every write made through the Tx.
	InTx(ctx context.Context, fn func(Tx) error) error
	Ping(ctx context.Context) error
}
