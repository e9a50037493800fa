package repository

import (
	"strings"
	"time"
)

// Seeded role names
const (
	RoleCustomer      = "Customer"
	RoleAdministrator = "Administrator"
)

// Gender is a closed enumeration; adding a value is a schema change.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// Valid reports whether g is one of the supported values
func (g Gender) Valid() bool {
	return g == GenderMale || g == GenderFemale
}

// User represents an account holder
type User struct {
	ID                 string
	Email              string
	PasswordHash       *string
	FullName           string
	BirthDate          time.Time
	Gender             Gender
	Phone              *string
	IsActive           bool
	MultiFactorEnabled bool
	LastLoginAt        *time.Time
	PasswordUpdatedAt  *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Role represents a named permission group
type Role struct {
	ID            string
	Name          string
	Description   *string
	IsSystemAdmin bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// UserRole records that a user holds a role. Rows are history: revocation
// flips IsActive, nothing is deleted.
type UserRole struct {
	ID         string
	UserID     string
	RoleID     string
	AssignedBy *string // nil when system-assigned
	AssignedAt time.Time
	ExpiresAt  *time.Time
	IsActive   bool
}

// ActiveAt reports whether the assignment grants its role at t
func (ur *UserRole) ActiveAt(t time.Time) bool {
	if !ur.IsActive {
		return false
	}
	return ur.ExpiresAt == nil || ur.ExpiresAt.After(t)
}

// Product is a static catalog row
type Product struct {
	ID    int64
	Name  string
	Price string // numeric, kept as text to avoid float rounding
}

// NormalizeEmail applies the case-insensitive email policy
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
