package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pesio-ai/be-shop-accounts/pkg/logger"
)


// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store on a pgx pool. Inside InTx the same type is
// rebound to the open transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
	db   DBTX
	inTx bool
	log  *logger.Logger
}

// NewPostgresStore wraps an open pool
func NewPostgresStore(pool *pgxpool.Pool, log *logger.Logger) *PostgresStore {
	return &PostgresStore{
		pool: pool,
		db:   pool,
		log:  log,
	}
}

func (s *PostgresStore) Users() UserStore {
	return NewUserRepository(s.db, s.log)
}

func (s *PostgresStore) Roles() RoleStore {
	return NewRoleRepository(s.db, s.log)
}

func (s *PostgresStore) Products() ProductStore {
	return NewProductRepository(s.db)
}

// InTx runs fn inside one database transaction. A nested call reuses the
// outer transaction.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&PostgresStore{
			pool: s.pool,
			db:   tx,
			inTx: true,
			log:  s.log,
		})
	})
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() {
	if !s.inTx {
		s.pool.Close()
	}
}

// uniqueViolation returns the violated constraint or index name
func uniqueViolation(err error) (string, bool) {
	return violation(err, pgerrcode.UniqueViolation)
}

// foreignKeyViolation returns the name of the broken foreign key
func foreignKeyViolation(err error) (string, bool) {
	return violation(err, pgerrcode.ForeignKeyViolation)
}

func violation(err error, code string) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == code {
		return pgErr.ConstraintName, true
	}
	return "", false
}

// Connect opens and verifies a pgx pool
func Connect(ctx context.Context, databaseURL string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
