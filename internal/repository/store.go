package repository

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrDuplicateEmail     = errors.New("email already exists")
	ErrDuplicatePhone     = errors.New("phone already exists")
	ErrRoleNotFound       = errors.New("role not found")
	ErrDuplicateRole      = errors.New("role already exists")
	ErrAlreadyAssigned    = errors.New("role already assigned")
	ErrAssignmentNotFound = errors.New("role assignment not found")
	ErrProductNotFound    = errors.New("product not found")
)

// UserStore persists users and their password hashes
type UserStore interface {
	EmailExists(ctx context.Context, email string) (bool, error)
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	UpdateLastLogin(ctx context.Context, id string) error
	SetActive(ctx context.Context, id string, active bool) error
}

// RoleStore persists roles and user-role assignments
type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	FindByName(ctx context.Context, name string) (*Role, error)
	GetByID(ctx context.Context, id string) (*Role, error)
	Assign(ctx context.Context, assignment *UserRole) error
	Revoke(ctx context.Context, userID, roleID string) error
	ActiveRolesFor(ctx context.Context, userID string, now time.Time) ([]*Role, error)
	ListAssignments(ctx context.Context, userID string) ([]*UserRole, error)
}

// ProductStore reads the seeded catalog
type ProductStore interface {
	List(ctx context.Context) ([]*Product, error)
	GetByID(ctx context.Context, id int64) (*Product, error)
}

// Store is the single entry point to persistence. Writes spanning several
// tables go through InTx so they commit or roll back together.
type Store interface {
	Users() UserStore
	Roles() RoleStore
	Products() ProductStore
	InTx(ctx context.Context, fn func(tx Store) error) error
	Ping(ctx context.Context) error
	Close()
}
