package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/pesio-ai/be-shop-accounts/internal/config"
	"github.com/pesio-ai/be-shop-accounts/internal/handler"
	"github.com/pesio-ai/be-shop-accounts/internal/metrics"
	"github.com/pesio-ai/be-shop-accounts/internal/repository"
	"github.com/pesio-ai/be-shop-accounts/internal/service"
	"github.com/pesio-ai/be-shop-accounts/migrations"
	jwtpkg "github.com/pesio-ai/be-shop-accounts/pkg/jwt"
	"github.com/pesio-ai/be-shop-accounts/pkg/logger"
	"github.com/pesio-ai/be-shop-accounts/pkg/password"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		ServiceName: cfg.ServiceName,
		Pretty:      cfg.LogPretty,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("Failed to open store")
	}
	defer store.Close()

	privateKeyPEM := cfg.Session.PrivateKeyPEM
	publicKeyPEM := cfg.Session.PublicKeyPEM
	if privateKeyPEM == "" || publicKeyPEM == "" {
		log.Warn().Msg("Generating JWT key pair (development mode, sessions will not survive a restart)")
		privateKeyPEM, publicKeyPEM, err = jwtpkg.GenerateKeyPair()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to generate JWT key pair")
		}
	}

	sessions, err := jwtpkg.NewManager(privateKeyPEM, publicKeyPEM, cfg.Session.TTL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create JWT manager")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	params := password.DefaultParams()
	params.Memory = cfg.Password.MemoryKiB
	params.Iterations = cfg.Password.Iterations
	params.Parallelism = cfg.Password.Parallelism

	accounts := service.NewAccountService(store, params, cfg.DefaultRole, m, log)
	if _, err := store.Roles().FindByName(ctx, cfg.DefaultRole); err != nil {
		// keep serving logins; registrations will fail loudly until seeded
		log.Error().Err(err).Str("role", cfg.DefaultRole).Msg("ALERT: default role not found at startup")
	}

	httpHandler := handler.NewHTTPHandler(accounts, store, sessions, m, reg, cfg.Session.SecureCookie, log)
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           httpHandler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcServer := handler.NewGRPCServer(store, log)
	grpcListener, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		log.Fatal().Err(err).Str("port", cfg.GRPCPort).Msg("Failed to create gRPC listener")
	}

	go grpcServer.WatchHealth(ctx, 15*time.Second)

	go func() {
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Error().Err(err).Msg("gRPC server failed")
			stop()
		}
	}()

	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown failed")
	}
	grpcServer.Stop()

	log.Info().Msg("Server stopped")
}

func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (repository.Store, error) {
	switch cfg.Store.Driver {
	case "memory":
		log.Warn().Msg("Using in-memory store, data is lost on exit")
		store := repository.NewMemoryStore()
		if err := store.SeedDefaults(ctx); err != nil {
			return nil, fmt.Errorf("failed to seed memory store: %w", err)
		}
		return store, nil

	case "postgres":
		if cfg.Store.AutoMigrate {
			if err := migrations.Up(cfg.Store.DatabaseURL, log); err != nil {
				return nil, err
			}
		}

		pool, err := repository.Connect(ctx, cfg.Store.DatabaseURL, cfg.Store.MaxConns)
		if err != nil {
			return nil, err
		}
		log.Info().Msg("Database connection established")
		return repository.NewPostgresStore(pool, log), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}
