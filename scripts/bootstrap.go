package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"

	"github.com/pesio-ai/be-shop-accounts/internal/config"
	"github.com/pesio-ai/be-shop-accounts/internal/repository"
	"github.com/pesio-ai/be-shop-accounts/internal/service"
	"github.com/pesio-ai/be-shop-accounts/migrations"
	"github.com/pesio-ai/be-shop-accounts/pkg/logger"
	"github.com/pesio-ai/be-shop-accounts/pkg/password"
)

type devAccount struct {
	email    string
	password string
	fullName string
	gender   repository.Gender
	extra    []string // roles granted on top of the default one
}

var devAccounts = []devAccount{
	{"admin@test.com", "Admin123!", "Admin User", repository.GenderFemale, []string{repository.RoleAdministrator}},
	{"customer@test.com", "Customer123!", "Test Customer", repository.GenderMale, nil},
}

// Bootstrap creates development accounts
func main() {
	_ = godotenv.Load()

	log := logger.New(logger.Config{Level: "info", ServiceName: "bootstrap", Pretty: true})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if cfg.Store.Driver != "postgres" {
		log.Fatal().Msg("Bootstrap only makes sense against postgres")
	}

	ctx := context.Background()

	if err := migrations.Up(cfg.Store.DatabaseURL, log); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate")
	}

	pool, err := repository.Connect(ctx, cfg.Store.DatabaseURL, cfg.Store.MaxConns)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	store := repository.NewPostgresStore(pool, log)
	defer store.Close()

	params := password.DefaultParams()
	params.Memory = cfg.Password.MemoryKiB
	params.Iterations = cfg.Password.Iterations
	params.Parallelism = cfg.Password.Parallelism

	accounts := service.NewAccountService(store, params, cfg.DefaultRole, nil, log)
	roles := service.NewRoleService(store.Roles(), log)

	for _, acct := range devAccounts {
		userID, err := ensureAccount(ctx, store, accounts, acct)
		if err != nil {
			log.Fatal().Err(err).Str("email", acct.email).Msg("Failed to create account")
		}

		for _, name := range acct.extra {
			role, err := roles.FindRoleByName(ctx, name)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to find role")
			}
			err = roles.AssignRole(ctx, userID, role.ID, nil, nil)
			if err != nil && !errors.Is(err, service.ErrAlreadyAssigned) {
				log.Fatal().Err(err).Str("role", name).Msg("Failed to assign role")
			}
		}

		log.Info().Str("user_id", userID).Str("email", acct.email).Msg("Account ready")
	}

	log.Info().Msg("=== Bootstrap Complete ===")
	for _, acct := range devAccounts {
		log.Info().Msgf("  %s / %s", acct.email, acct.password)
	}
}

func ensureAccount(ctx context.Context, store repository.Store, accounts *service.AccountService, acct devAccount) (string, error) {
	userID, err := accounts.RegisterAccount(ctx, &service.RegisterRequest{
		Email:     acct.email,
		FullName:  acct.fullName,
		BirthDate: time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC),
		Gender:    acct.gender,
		Password:  acct.password,
	})
	if err == nil {
		return userID, nil
	}
	if !errors.Is(err, service.ErrEmailAlreadyExists) {
		return "", err
	}

	user, err := store.Users().GetByEmail(ctx, acct.email)
	if err != nil {
		return "", fmt.Errorf("failed to load existing account: %w", err)
	}
	return user.ID, nil
}
