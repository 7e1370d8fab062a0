package domain

import "time"

// WatchlistItem is a movie saved by a user. Rows are unique per (UserID, MovieID)
// and are only ever inserted or deleted, never updated in place.
type WatchlistItem struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	MovieID   int       `json:"movie_id"`
	CreatedAt time.Time `json:"created_at"`
}
