package store

import (
	"context"
	"embed"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/Clark-Hu/cinelist/internal/logging"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// goose keeps its base filesystem and dialect in package state.
var gooseMu sync.Mutex

// Migrate runs every pending migration and returns the resulting schema version.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger *log.Logger) (int64, error) {
	logger = logging.OrDiscard(logger)

	gooseMu.Lock()
	defer gooseMu.Unlock()

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("postgres"); err != nil {
		return 0, fmt.Errorf("set goose dialect: %w", err)
	}

	current, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		logger.Warn("could not read schema version", "err", err)
		current = 0
	}
	logger.Info("running migrations", "from", current)

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return 0, fmt.Errorf("apply migrations: %w", err)
	}

	version, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	logger.Info("migrations complete", "version", version)
	return version, nil
}
