package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pesio-ai/be-shop-accounts/pkg/logger"
)

const userColumns = `
	id, email, password_hash, full_name, birth_date, gender, phone,
	is_active, multi_factor_enabled, last_login_at, password_updated_at,
	created_at, updated_at
`

// UserRepository handles user data operations
type UserRepository struct {
	db  DBTX
	log *logger.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db DBTX, log *logger.Logger) *UserRepository {
	return &UserRepository{
		db:  db,
		log: log,
	}
}

// EmailExists reports whether an account already uses email
func (r *UserRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE lower(email) = $1)`

	var exists bool
	if err := r.db.QueryRow(ctx, query, NormalizeEmail(email)).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check email: %w", err)
	}

	return exists, nil
}

// Create inserts a new user. The unique index on lower(email) is the
// authority on duplicates.
func (r *UserRepository) Create(ctx context.Context, user *User) error {
	now := time.Now().UTC()
	user.ID = uuid.New().String()
	user.Email = NormalizeEmail(user.Email)
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.PasswordHash != nil {
		user.PasswordUpdatedAt = &now
	}

	query := `
		INSERT INTO users (
			id, email, password_hash, full_name, birth_date, gender, phone,
			is_active, multi_factor_enabled, password_updated_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
	`

	_, err := r.db.Exec(ctx, query,
		user.ID, user.Email, user.PasswordHash, user.FullName, user.BirthDate,
		string(user.Gender), user.Phone, user.IsActive, user.MultiFactorEnabled,
		user.PasswordUpdatedAt, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok {
			r.log.Debug().Str("constraint", constraint).Msg("User insert rejected by unique index")
			switch constraint {
			case "users_email_key":
				return ErrDuplicateEmail
			case "users_phone_key":
				return ErrDuplicatePhone
			}
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	if !isUUID(id) {
		return nil, ErrUserNotFound
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.scanOne(r.db.QueryRow(ctx, query, id))
}

// GetByEmail retrieves a user by email
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = $1`
	return r.scanOne(r.db.QueryRow(ctx, query, NormalizeEmail(email)))
}

// UpdatePassword overwrites the hash and its timestamp in one statement
func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	if !isUUID(id) {
		return ErrUserNotFound
	}

	query := `
		UPDATE users
		SET password_hash = $2, password_updated_at = $3, updated_at = $3
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query, id, passwordHash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

// UpdateLastLogin updates the last login timestamp
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string) error {
	if !isUUID(id) {
		return ErrUserNotFound
	}

	query := `UPDATE users SET last_login_at = $2, updated_at = $2 WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

// SetActive soft-enables or soft-disables an account
func (r *UserRepository) SetActive(ctx context.Context, id string, active bool) error {
	if !isUUID(id) {
		return ErrUserNotFound
	}

	query := `UPDATE users SET is_active = $2, updated_at = $3 WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, active, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update user status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

func (r *UserRepository) scanOne(row pgx.Row) (*User, error) {
	user := &User{}
	var gender string

	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.FullName,
		&user.BirthDate,
		&gender,
		&user.Phone,
		&user.IsActive,
		&user.MultiFactorEnabled,
		&user.LastLoginAt,
		&user.PasswordUpdatedAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	user.Gender = Gender(gender)
	return user, nil
}

func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
