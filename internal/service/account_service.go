package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pesio-ai/be-shop-accounts/internal/form"
	"github.com/pesio-ai/be-shop-accounts/internal/metrics"
	"github.com/pesio-ai/be-shop-accounts/internal/repository"
	"github.com/pesio-ai/be-shop-accounts/pkg/logger"
	"github.com/pesio-ai/be-shop-accounts/pkg/password"
)

// Registration stages, logged in order
const (
	stageValidating    = "validating"
	stageHashing       = "hashing"
	stagePersisting    = "persisting"
	stageRoleAssigning = "role_assigning"
	stageCommitted     = "committed"
	stageRolledBack    = "rolled_back"
)

// timingPlaintext is hashed once so unknown emails still pay for a derivation
const timingPlaintext = "timing-equalizer-not-a-password"

type AccountService struct {
	store       repository.Store
	params      *password.Params
	defaultRole string
	metrics     *metrics.Registry
	log         *logger.Logger
	now         func() time.Time

	// verified against when the email is unknown
	dummyHash string
}

func NewAccountService(
	store repository.Store,
	params *password.Params,
	defaultRole string,
	m *metrics.Registry,
	log *logger.Logger,
) *AccountService {
	if params == nil {
		params = password.DefaultParams()
	}
	if defaultRole == "" {
		defaultRole = repository.RoleCustomer
	}
	s := &AccountService{
		store:       store,
		params:      params,
		defaultRole: defaultRole,
		metrics:     m,
		log:         log,
		now:         time.Now,
	}

	dummy, err := password.Hash(timingPlaintext, params)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build timing hash")
	}
	s.dummyHash = dummy
	return s
}

type RegisterRequest struct {
	Email     string
	FullName  string
	BirthDate time.Time
	Gender    repository.Gender
	Phone     *string
	Password  string
}

// Profile is a user together with the roles it currently holds
type Profile struct {
	User  *repository.User
	Roles []*repository.Role
}

// RegisterAccount creates a user and grants it the default role in one
// transaction. Either both rows exist afterwards or neither does.
func (s *AccountService) RegisterAccount(ctx context.Context, req *RegisterRequest) (string, error) {
	email := repository.NormalizeEmail(req.Email)
	log := s.log.With("email", email)

	stage := func(name string) {
		log.Debug().Str("stage", name).Msg("Registration stage")
	}

	stage(stageValidating)
	fullName := strings.TrimSpace(req.FullName)
	phone := normalizePhone(req.Phone)
	rawPhone := ""
	if phone != nil {
		rawPhone = *phone
	}
	if err := form.ValidateAccountShape(email, fullName, string(req.Gender), rawPhone); err != nil {
		s.metrics.Registration(metrics.StatusValidationFailed)
		return "", err
	}

	exists, err := s.store.Users().EmailExists(ctx, email)
	if err != nil {
		s.metrics.Registration(metrics.StatusError)
		return "", fmt.Errorf("failed to check email: %w", err)
	}
	if exists {
		log.Info().Msg("Registration rejected, email already registered")
		s.metrics.Registration(metrics.StatusDuplicate)
		return "", ErrEmailAlreadyExists
	}

	stage(stageHashing)
	hash, err := password.Hash(req.Password, s.params)
	if err != nil {
		if errors.Is(err, password.ErrTooShort) {
			s.metrics.Registration(metrics.StatusWeakPassword)
			return "", ErrWeakPassword
		}
		s.metrics.Registration(metrics.StatusError)
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	var userID string
	err = s.store.InTx(ctx, func(tx repository.Store) error {
		stage(stagePersisting)
		user := &repository.User{
			Email:        email,
			PasswordHash: &hash,
			FullName:     fullName,
			BirthDate:    req.BirthDate,
			Gender:       req.Gender,
			Phone:        phone,
			IsActive:     true,
		}
		if err := tx.Users().Create(ctx, user); err != nil {
			switch {
			case errors.Is(err, repository.ErrDuplicateEmail):
				return ErrEmailAlreadyExists
			case errors.Is(err, repository.ErrDuplicatePhone):
				return ErrPhoneAlreadyExists
			}
			return fmt.Errorf("failed to create user: %w", err)
		}

		stage(stageRoleAssigning)
		role, err := tx.Roles().FindByName(ctx, s.defaultRole)
		if err != nil {
			if errors.Is(err, repository.ErrRoleNotFound) {
				return fmt.Errorf("%w: %q", ErrMissingDefaultRole, s.defaultRole)
			}
			return fmt.Errorf("failed to find default role: %w", err)
		}

		if err := tx.Roles().Assign(ctx, &repository.UserRole{
			UserID: user.ID,
			RoleID: role.ID,
		}); err != nil {
			return fmt.Errorf("failed to assign default role: %w", err)
		}

		userID = user.ID
		return nil
	})
	if err != nil {
		stage(stageRolledBack)
		switch {
		case errors.Is(err, ErrEmailAlreadyExists), errors.Is(err, ErrPhoneAlreadyExists):
			log.Info().Err(err).Msg("Registration lost uniqueness race")
			s.metrics.Registration(metrics.StatusDuplicate)
		case errors.Is(err, ErrMissingDefaultRole):
			log.Error().Err(err).Str("role", s.defaultRole).Msg("ALERT: default role not seeded, registrations are failing")
			s.metrics.Registration(metrics.StatusMissingDefaultRole)
		default:
			log.Error().Err(err).Msg("Registration failed")
			s.metrics.Registration(metrics.StatusError)
		}
		return "", err
	}

	stage(stageCommitted)
	s.metrics.Registration(metrics.StatusSuccess)
	log.Info().Str("user_id", userID).Msg("Account registered")
	return userID, nil
}

// Authenticate returns the user id for a matching email and password.
// Every credential failure yields ErrInvalidCredentials after one Argon2
// derivation, so callers cannot tell which part was wrong.
func (s *AccountService) Authenticate(ctx context.Context, email, plaintext string) (string, error) {
	email = repository.NormalizeEmail(email)

	user, err := s.store.Users().GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.equalizeTiming(plaintext)
			s.log.Info().Msg("Login failed")
			s.metrics.Login(metrics.StatusInvalidCredentials)
			return "", ErrInvalidCredentials
		}
		s.metrics.Login(metrics.StatusError)
		return "", fmt.Errorf("failed to load user: %w", err)
	}

	if user.PasswordHash == nil {
		s.equalizeTiming(plaintext)
		s.log.Info().Str("user_id", user.ID).Msg("Login failed")
		s.metrics.Login(metrics.StatusInvalidCredentials)
		return "", ErrInvalidCredentials
	}

	valid, err := password.Verify(plaintext, *user.PasswordHash)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", user.ID).Msg("Stored password hash is unreadable")
		s.metrics.Login(metrics.StatusError)
		return "", fmt.Errorf("password verification error: %w", err)
	}

	if !valid || !user.IsActive {
		s.log.Info().Str("user_id", user.ID).Bool("active", user.IsActive).Msg("Login failed")
		s.metrics.Login(metrics.StatusInvalidCredentials)
		return "", ErrInvalidCredentials
	}

	if err := s.store.Users().UpdateLastLogin(ctx, user.ID); err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID).Msg("Failed to record last login")
	}

	// plaintext is only in hand right now; upgrade hashes made at an older cost
	if password.NeedsRehash(*user.PasswordHash, s.params) {
		if err := s.SetPassword(ctx, user.ID, plaintext); err != nil {
			s.log.Warn().Err(err).Str("user_id", user.ID).Msg("Failed to upgrade password hash")
		}
	}

	s.metrics.Login(metrics.StatusSuccess)
	s.log.Info().Str("user_id", user.ID).Msg("Login successful")
	return user.ID, nil
}

// SetPassword replaces the stored hash
func (s *AccountService) SetPassword(ctx context.Context, userID, plaintext string) error {
	hash, err := password.Hash(plaintext, s.params)
	if err != nil {
		if errors.Is(err, password.ErrTooShort) {
			return ErrWeakPassword
		}
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.store.Users().UpdatePassword(ctx, userID, hash); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("failed to update password: %w", err)
	}

	s.log.Info().Str("user_id", userID).Msg("Password updated")
	return nil
}

// VerifyPassword compares plaintext against the stored hash
func (s *AccountService) VerifyPassword(ctx context.Context, userID, plaintext string) (bool, error) {
	user, err := s.store.Users().GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return false, ErrAccountNotFound
		}
		return false, fmt.Errorf("failed to get user: %w", err)
	}
	if user.PasswordHash == nil {
		return false, nil
	}
	return password.Verify(plaintext, *user.PasswordHash)
}

// DeactivateAccount disables login without deleting anything
func (s *AccountService) DeactivateAccount(ctx context.Context, userID string) error {
	s.log.Info().Str("user_id", userID).Msg("Deactivating account")

	if err := s.store.Users().SetActive(ctx, userID, false); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrAccountNotFound
		}
		s.log.Error().Err(err).Msg("Failed to deactivate account")
		return fmt.Errorf("failed to deactivate account: %w", err)
	}
	return nil
}

// GetProfile loads a user and its currently active roles
func (s *AccountService) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	user, err := s.store.Users().GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	roles, err := s.store.Roles().ActiveRolesFor(ctx, userID, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to get roles: %w", err)
	}

	return &Profile{User: user, Roles: roles}, nil
}

// normalizePhone trims the number and treats blank as absent, so the
// unique index never sees "" or padded duplicates
func normalizePhone(phone *string) *string {
	if phone == nil {
		return nil
	}
	p := strings.TrimSpace(*phone)
	if p == "" {
		return nil
	}
	return &p
}

func (s *AccountService) equalizeTiming(plaintext string) {
	if s.dummyHash != "" {
		_, _ = password.Verify(plaintext, s.dummyHash)
	}
}
