package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type TenantStatus string

const (
	TenantStatusActive    TenantStatus = "active"
	TenantStatusInactive  TenantStatus = "inactive"
	TenantStatusSuspended TenantStatus = "suspended"
)

type Tenant struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	SchemaName string          `json:"schema_name" db:"schema_name"`
	Name       string          `json:"name" db:"name"`
	AdminEmail string          `json:"admin_email" db:"admin_email"`
	Status     TenantStatus    `json:"tenant_status" db:"status"`
	Settings   json.RawMessage `json:"settings" db:"settings"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time       `json:"last_updated" db:"updated_at"`
}

type Invitation struct {
	ID         int64      `json:"id" db:"id"`
	TenantID   uuid.UUID  `json:"tenant_id" db:"tenant_id"`
	Email      string     `json:"email" db:"email"`
	Token      string     `json:"token" db:"token"`
	InvitedBy  *uuid.UUID `json:"invited_by,omitempty" db:"invited_by"`
	IsAccepted bool       `json:"is_accepted" db:"is_accepted"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty" db:"accepted_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// Accept moves the invitation to its terminal state.
func (i *Invitation) Accept(at time.Time) {
	i.IsAccepted = true
	i.AcceptedAt = &at
}

// Permission is an entry of the global capability catalog.
type Permission struct {
	ID       int64  `json:"id" db:"id"`
	Codename string `json:"codename" db:"codename"`
	Name     string `json:"name" db:"name"`
}

// Role lives inside a tenant schema; the same name in two tenants is two
// distinct rows.
type Role struct {
	ID          int64        `json:"id" db:"id"`
	Name        string       `json:"name" db:"name"`
	Permissions []Permission `json:"permissions"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
}

const RoleTenantAdmin = "TENANT_ADMIN"

const (
	PermChangeTenantInfo = "can_change_tenant_info"
	PermInviteUsers      = "can_invite_users"
)

// TenantAdminPermissions is the fixed permission set seeded into the
// TENANT_ADMIN role of every new tenant.
var TenantAdminPermissions = []string{PermChangeTenantInfo, PermInviteUsers}
