package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/cinelist/internal/store"
)

// codedError is a sentinel that also carries the SQLSTATE the backend client
// classifies on.
type codedError struct {
	msg  string
	code string
}

func (e *codedError) Error() string       { return e.msg }
func (e *codedError) BackendCode() string { return e.code }

var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound error = &codedError{msg: "repository: not found", code: "P0002"}
	// ErrForbidden indicates the row exists but belongs to another user.
	ErrForbidden error = &codedError{msg: "repository: permission denied", code: "42501"}
)

// ActorFunc returns the user the current call acts for.
type ActorFunc func(ctx context.Context) (string, bool)

// Repository aggregates all domain-specific repositories.
type Repository struct {
	Watchlist *WatchlistRepository
	Reviews   *ReviewsRepository
	Profiles  *ProfilesRepository
}

// New constructs a Repository backed by the provided store.
func New(st *store.Store, actor ActorFunc) *Repository {
	return NewWithPool(st.Pool(), actor)
}

// NewWithPool allows constructing repositories directly from a pgx pool.
func NewWithPool(pool *pgxpool.Pool, actor ActorFunc) *Repository {
	s := scope{pool: pool, actor: actor}
	return &Repository{
		Watchlist: &WatchlistRepository{scope: s},
		Reviews:   &ReviewsRepository{scope: s},
		Profiles:  &ProfilesRepository{scope: s},
	}
}

// scope runs statements as the restricted app_user role with app.user_id set,
// so row-level security policies decide visibility.
type scope struct {
	pool  *pgxpool.Pool
	actor ActorFunc
}

func (s scope) actorID(ctx context.Context) string {
	if s.actor == nil {
		return ""
	}
	id, ok := s.actor(ctx)
	if !ok {
		return ""
	}
	return id
}

func (s scope) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	userID := s.actorID(ctx)
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		const query = `SELECT set_config('role', 'app_user', true), set_config('app.user_id', $1, true)`
		if _, err := tx.Exec(ctx, query, userID); err != nil {
			return fmt.Errorf("scope transaction: %w", err)
		}
		return fn(tx)
	})
}

// ownerMismatch distinguishes a row hidden by policy from a missing one after
// a write touched no rows.
func ownerMismatch(ctx context.Context, tx pgx.Tx, table, id string) error {
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, table)
	if err := tx.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return fmt.Errorf("check %s ownership: %w", table, err)
	}
	if exists {
		return ErrForbidden
	}
	return ErrNotFound
}
