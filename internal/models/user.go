package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	FirstName    string    `json:"first_name" db:"first_name"`
	MiddleName   *string   `json:"middle_name" db:"middle_name"`
	LastName     string    `json:"last_name" db:"last_name"`
	IsVerified   bool      `json:"-" db:"is_verified"`
	IsActive     bool      `json:"-" db:"is_active"`
	IsStaff      bool      `json:"-" db:"is_staff"`
	IsSuperuser  bool      `json:"-" db:"is_superuser"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// CanAuthenticate reports whether the account may log in. Callers check the
// flags individually when they need to tell the user why not.
func (u *User) CanAuthenticate() bool {
	return u.IsVerified && u.IsActive
}
