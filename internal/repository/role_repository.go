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

type RoleRepository struct {
	db  DBTX
	log *logger.Logger
}

func NewRoleRepository(db DBTX, log *logger.Logger) *RoleRepository {
	return &RoleRepository{
		db:  db,
		log: log,
	}
}

// Create creates a new role
func (r *RoleRepository) Create(ctx context.Context, role *Role) error {
	now := time.Now().UTC()
	role.ID = uuid.New().String()
	role.CreatedAt = now
	role.UpdatedAt = now

	query := `
		INSERT INTO roles (id, name, description, is_system_admin, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.Exec(ctx, query,
		role.ID, role.Name, role.Description, role.IsSystemAdmin, role.CreatedAt, role.UpdatedAt,
	)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok && constraint == "roles_name_key" {
			return ErrDuplicateRole
		}
		return fmt.Errorf("failed to create role: %w", err)
	}

	return nil
}

// FindByName retrieves a role by its unique name
func (r *RoleRepository) FindByName(ctx context.Context, name string) (*Role, error) {
	query := `
		SELECT id, name, description, is_system_admin, created_at, updated_at
		FROM roles
		WHERE name = $1
	`
	return scanRole(r.db.QueryRow(ctx, query, name))
}

// GetByID retrieves a role by ID
func (r *RoleRepository) GetByID(ctx context.Context, id string) (*Role, error) {
	if !isUUID(id) {
		return nil, ErrRoleNotFound
	}

	query := `
		SELECT id, name, description, is_system_admin, created_at, updated_at
		FROM roles
		WHERE id = $1
	`
	return scanRole(r.db.QueryRow(ctx, query, id))
}

// Assign inserts a new active assignment. The partial unique index
// user_roles_active_key rejects a second active row for the same pair.
func (r *RoleRepository) Assign(ctx context.Context, ur *UserRole) error {
	switch {
	case !isUUID(ur.UserID):
		return ErrUserNotFound
	case !isUUID(ur.RoleID):
		return ErrRoleNotFound
	case ur.AssignedBy != nil && !isUUID(*ur.AssignedBy):
		return ErrUserNotFound
	}

	now := time.Now().UTC()
	ur.ID = uuid.New().String()
	ur.AssignedAt = now
	ur.IsActive = true

	// Expired rows still flagged active would otherwise block re-assignment.
	retire := `
		UPDATE user_roles
		SET is_active = false
		WHERE user_id = $1 AND role_id = $2 AND is_active
		  AND expires_at IS NOT NULL AND expires_at <= $3
	`
	if _, err := r.db.Exec(ctx, retire, ur.UserID, ur.RoleID, now); err != nil {
		return fmt.Errorf("failed to retire expired assignments: %w", err)
	}

	query := `
		INSERT INTO user_roles (id, user_id, role_id, assigned_by, assigned_at, expires_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Exec(ctx, query,
		ur.ID, ur.UserID, ur.RoleID, ur.AssignedBy, ur.AssignedAt, ur.ExpiresAt, ur.IsActive,
	)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok && constraint == "user_roles_active_key" {
			return ErrAlreadyAssigned
		}
		if constraint, ok := foreignKeyViolation(err); ok {
			switch constraint {
			case "user_roles_role_id_fkey":
				return ErrRoleNotFound
			case "user_roles_user_id_fkey", "user_roles_assigned_by_fkey":
				return ErrUserNotFound
			}
		}
		return fmt.Errorf("failed to assign role: %w", err)
	}

	r.log.Debug().
		Str("user_id", ur.UserID).
		Str("role_id", ur.RoleID).
		Msg("Role assignment inserted")
	return nil
}

// Revoke deactivates the active assignment and keeps the row as history
func (r *RoleRepository) Revoke(ctx context.Context, userID, roleID string) error {
	if !isUUID(userID) || !isUUID(roleID) {
		return ErrAssignmentNotFound
	}

	query := `
		UPDATE user_roles
		SET is_active = false
		WHERE user_id = $1 AND role_id = $2 AND is_active
	`

	tag, err := r.db.Exec(ctx, query, userID, roleID)
	if err != nil {
		return fmt.Errorf("failed to revoke role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAssignmentNotFound
	}

	return nil
}

// ActiveRolesFor returns roles whose assignment is active and unexpired at now
func (r *RoleRepository) ActiveRolesFor(ctx context.Context, userID string, now time.Time) ([]*Role, error) {
	if !isUUID(userID) {
		return make([]*Role, 0), nil
	}

	query := `
		SELECT DISTINCT r.id, r.name, r.description, r.is_system_admin, r.created_at, r.updated_at
		FROM roles r
		INNER JOIN user_roles ur ON r.id = ur.role_id
		WHERE ur.user_id = $1
		  AND ur.is_active
		  AND (ur.expires_at IS NULL OR ur.expires_at > $2)
		ORDER BY r.name
	`

	rows, err := r.db.Query(ctx, query, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to get user roles: %w", err)
	}
	defer rows.Close()

	roles := make([]*Role, 0)
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}

	return roles, rows.Err()
}

// ListAssignments returns every assignment of a user, newest first
func (r *RoleRepository) ListAssignments(ctx context.Context, userID string) ([]*UserRole, error) {
	if !isUUID(userID) {
		return make([]*UserRole, 0), nil
	}

	query := `
		SELECT id, user_id, role_id, assigned_by, assigned_at, expires_at, is_active
		FROM user_roles
		WHERE user_id = $1
		ORDER BY assigned_at DESC, id
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	assignments := make([]*UserRole, 0)
	for rows.Next() {
		ur := &UserRole{}
		err := rows.Scan(
			&ur.ID, &ur.UserID, &ur.RoleID, &ur.AssignedBy,
			&ur.AssignedAt, &ur.ExpiresAt, &ur.IsActive,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		assignments = append(assignments, ur)
	}

	return assignments, rows.Err()
}

func scanRole(row pgx.Row) (*Role, error) {
	role := &Role{}
	err := row.Scan(
		&role.ID, &role.Name, &role.Description, &role.IsSystemAdmin,
		&role.CreatedAt, &role.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan role: %w", err)
	}
	return role, nil
}
