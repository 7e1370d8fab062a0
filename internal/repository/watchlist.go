package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Clark-Hu/cinelist/internal/domain"
)

// WatchlistRepository provides access to the watchlist table.
type WatchlistRepository struct {
	scope
}

const watchlistColumns = `id, user_id, movie_id, created_at`

// List returns the user's entries, newest first. Rows of other users are
// filtered by policy.
func (r *WatchlistRepository) List(ctx context.Context, userID string) ([]domain.WatchlistItem, error) {
	const query = `SELECT ` + watchlistColumns + ` FROM watchlist WHERE user_id = $1 ORDER BY created_at DESC, id`

	var items []domain.WatchlistItem
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, userID)
		if err != nil {
			return fmt.Errorf("list watchlist: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			item, err := scanWatchlistItem(rows)
			if err != nil {
				return err
			}
			items = append(items, item)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Find returns a single entry or ErrNotFound.
func (r *WatchlistRepository) Find(ctx context.Context, userID string, movieID int) (domain.WatchlistItem, error) {
	const query = `SELECT ` + watchlistColumns + ` FROM watchlist WHERE user_id = $1 AND movie_id = $2`

	var item domain.WatchlistItem
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		item, err = scanWatchlistItem(tx.QueryRow(ctx, query, userID, movieID))
		return err
	})
	return item, err
}

// Insert adds an entry. Duplicates surface as a unique violation (23505).
func (r *WatchlistRepository) Insert(ctx context.Context, userID string, movieID int) (domain.WatchlistItem, error) {
	const query = `INSERT INTO watchlist (user_id, movie_id) VALUES ($1, $2) RETURNING ` + watchlistColumns

	var item domain.WatchlistItem
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		item, err = scanWatchlistItem(tx.QueryRow(ctx, query, userID, movieID))
		if err != nil {
			return fmt.Errorf("insert watchlist: %w", err)
		}
		return nil
	})
	return item, err
}

// Delete removes the (user, movie) entry. Removing an absent entry is a no-op.
func (r *WatchlistRepository) Delete(ctx context.Context, userID string, movieID int) error {
	if actor := r.actorID(ctx); actor != userID {
		return ErrForbidden
	}
	const query = `DELETE FROM watchlist WHERE user_id = $1 AND movie_id = $2`
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, query, userID, movieID); err != nil {
			return fmt.Errorf("delete watchlist: %w", err)
		}
		return nil
	})
}

func scanWatchlistItem(row pgx.Row) (domain.WatchlistItem, error) {
	var item domain.WatchlistItem
	err := row.Scan(&item.ID, &item.UserID, &item.MovieID, &item.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.WatchlistItem{}, ErrNotFound
		}
		return domain.WatchlistItem{}, err
	}
	return item, nil
}
