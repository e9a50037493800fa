package service

import (
	"context"
	"fmt"
	"time"

	"github.com/pesio-ai/be-shop-accounts/internal/repository"
	"github.com/pesio-ai/be-shop-accounts/pkg/logger"
)

type RoleService struct {
	roles repository.RoleStore
	log   *logger.Logger
	now   func() time.Time
}

func NewRoleService(roles repository.RoleStore, log *logger.Logger) *RoleService {
	return &RoleService{
		roles: roles,
		log:   log,
		now:   time.Now,
	}
}

type CreateRoleRequest struct {
	Name          string
	Description   *string
	IsSystemAdmin bool
}

// CreateRole creates a new role
func (s *RoleService) CreateRole(ctx context.Context, req *CreateRoleRequest) (*repository.Role, error) {
	s.log.Info().
		Str("name", req.Name).
		Msg("Creating role")

	role := &repository.Role{
		Name:          req.Name,
		Description:   req.Description,
		IsSystemAdmin: req.IsSystemAdmin,
	}

	if err := s.roles.Create(ctx, role); err != nil {
		s.log.Error().Err(err).Msg("Failed to create role")
		return nil, fmt.Errorf("failed to create role: %w", err)
	}

	s.log.Info().Str("role_id", role.ID).Msg("Role created successfully")
	return role, nil
}

// FindRoleByName returns repository.ErrRoleNotFound (wrapped) when absent
func (s *RoleService) FindRoleByName(ctx context.Context, name string) (*repository.Role, error) {
	role, err := s.roles.FindByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to find role %q: %w", name, err)
	}
	return role, nil
}

// AssignRole grants a role. assignedBy is nil for system grants and
// expiresAt nil for a permanent one.
func (s *RoleService) AssignRole(ctx context.Context, userID, roleID string, assignedBy *string, expiresAt *time.Time) error {
	s.log.Info().
		Str("user_id", userID).
		Str("role_id", roleID).
		Msg("Assigning role to user")

	err := s.roles.Assign(ctx, &repository.UserRole{
		UserID:     userID,
		RoleID:     roleID,
		AssignedBy: assignedBy,
		ExpiresAt:  expiresAt,
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to assign role")
		return fmt.Errorf("failed to assign role: %w", err)
	}

	s.log.Info().
		Str("user_id", userID).
		Str("role_id", roleID).
		Msg("Role assigned successfully")
	return nil
}

// RevokeRole deactivates the active assignment, keeping the row as history
func (s *RoleService) RevokeRole(ctx context.Context, userID, roleID string) error {
	s.log.Info().
		Str("user_id", userID).
		Str("role_id", roleID).
		Msg("Revoking role from user")

	if err := s.roles.Revoke(ctx, userID, roleID); err != nil {
		s.log.Warn().Err(err).Msg("Failed to revoke role")
		return fmt.Errorf("failed to revoke role: %w", err)
	}

	s.log.Info().
		Str("user_id", userID).
		Str("role_id", roleID).
		Msg("Role revoked successfully")
	return nil
}

// ActiveRolesFor lists the roles a user holds right now
func (s *RoleService) ActiveRolesFor(ctx context.Context, userID string) ([]*repository.Role, error) {
	roles, err := s.roles.ActiveRolesFor(ctx, userID, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to list active roles: %w", err)
	}
	return roles, nil
}

// ListAssignments returns the full assignment history, newest first
func (s *RoleService) ListAssignments(ctx context.Context, userID string) ([]*repository.UserRole, error) {
	assignments, err := s.roles.ListAssignments(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	return assignments, nil
}
