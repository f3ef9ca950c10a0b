package infra

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/payo-app/payo_vault/internal/config"
	"github.com/payo-app/payo_vault/internal/ledger"
)

const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

// NewPostgresPool configures and returns a PostgreSQL connection pool.
func NewPostgresPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	if url == "" {
		return nil, fmt.Errorf("database url is required")
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	// Every transition holds the vault_state row lock, so a large pool only queues.
	if cfg.MaxConns > 8 {
		cfg.MaxConns = 8
	}
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}

// Store is the opened ledger store together with the pool backing it, if any.
type Store struct {
	Ledger  ledger.Store
	Pool    *pgxpool.Pool
	Backend string
}

// OpenStore picks the ledger backend from cfg: Postgres when DATABASE_URL is
// set, else SQLite when SQLITE_PATH is set, else in memory. Postgres schemas
// are migrated on open.
func OpenStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (Store, error) {
	switch {
	case cfg.DatabaseURL != "":
		pool, err := NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return Store{}, err
		}
		pg := ledger.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return Store{}, fmt.Errorf("migrate ledger: %w", err)
		}
		logger.Info("ledger store opened", slog.String("backend", BackendPostgres))
		return Store{Ledger: pg, Pool: pool, Backend: BackendPostgres}, nil
	case cfg.SQLitePath != "":
		lite, err := ledger.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return Store{}, fmt.Errorf("open sqlite ledger: %w", err)
		}
		logger.Info("ledger store opened", slog.String("backend", BackendSQLite), slog.String("path", cfg.SQLitePath))
		return Store{Ledger: lite, Backend: BackendSQLite}, nil
	default:
		logger.Warn("ledger store is in memory; state is lost on restart")
		return Store{Ledger: ledger.NewInMemory(), Backend: BackendMemory}, nil
	}
}

// Close releases the store and its pool.
func (s Store) Close() {
	if s.Ledger != nil {
		_ = s.Ledger.Close()
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
}
