package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/cinelist/internal/logging"
)

// ErrSchemaMissing reports a reachable database that has not been migrated.
var ErrSchemaMissing = errors.New("store: schema not migrated, run `cinelist migrate`")

// schemaTables must exist for the watchlist, reviews and profiles resources.
var schemaTables = []string{"profiles", "watchlist", "reviews"}

// Options controls connection-pool behaviour.
type Options struct {
	MaxConns        int32
	MinConns        int32
	MaxConnIdleTime time.Duration
	MaxConnLifetime time.Duration
	// ConnTimeout bounds the initial connect and every health check.
	ConnTimeout time.Duration
	// StatementCacheCapacity overrides the prepared-statement cache size when
	// positive. Zero keeps pgx's defaults.
	StatementCacheCapacity int
	Logger                 *log.Logger
}

// Store owns the pgx pool the relational backend runs on.
type Store struct {
	pool    *pgxpool.Pool
	logger  *log.Logger
	timeout time.Duration
}

func poolConfig(dbURL string, opts Options) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("parse db url: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		cfg.MinConns = min(opts.MinConns, cfg.MaxConns)
	}
	if opts.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = opts.MaxConnIdleTime
	}
	if opts.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = opts.MaxConnLifetime
	}
	if opts.StatementCacheCapacity > 0 {
		cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheStatement
		cfg.ConnConfig.StatementCacheCapacity = opts.StatementCacheCapacity
	}
	return cfg, nil
}

// New connects the pool and pings it. The schema is not checked here so that
// `cinelist migrate` can run against an empty database.
func New(ctx context.Context, dbURL string, opts Options) (*Store, error) {
	logger := logging.Component(opts.Logger, "store")

	cfg, err := poolConfig(dbURL, opts)
	if err != nil {
		return nil, err
	}
	logger.Info("connecting",
		"host", cfg.ConnConfig.Host, "database", cfg.ConnConfig.Database,
		"max_conns", cfg.MaxConns, "min_conns", cfg.MinConns)

	s := &Store{logger: logger, timeout: opts.ConnTimeout}
	connCtx, cancel := s.bounded(ctx)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(connCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s.pool = pool
	logger.Info("connected")
	return s, nil
}

func (s *Store) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return ctx, func() {}
}

// Close releases database resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.logger.Info("closing pool")
	s.pool.Close()
}

// HealthCheck verifies the database answers and carries the cinelist tables.
func (s *Store) HealthCheck(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return errors.New("store: not initialized")
	}
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	var missing int
	const query = `SELECT count(*) FROM unnest($1::text[]) AS t(name) WHERE to_regclass('public.' || t.name) IS NULL`
	if err := s.pool.QueryRow(ctx, query, schemaTables).Scan(&missing); err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	if missing > 0 {
		return ErrSchemaMissing
	}
	return nil
}

// Migrate applies the embedded schema migrations to the pool's database.
func (s *Store) Migrate(ctx context.Context) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, errors.New("store: not initialized")
	}
	return Migrate(ctx, s.pool, s.logger)
}

// Pool exposes the underlying pgx pool for repositories.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}
