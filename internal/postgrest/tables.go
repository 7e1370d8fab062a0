package postgrest

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/Clark-Hu/cinelist/internal/domain"
)

const (
	preferReturn = "return=representation"
	preferMerge  = "resolution=merge-duplicates"
)

// WatchlistTable is the watchlist resource.
type WatchlistTable struct{ c *Client }

func (t *WatchlistTable) List(ctx context.Context, userID string) ([]domain.WatchlistItem, error) {
	var items []domain.WatchlistItem
	err := t.c.do(ctx, request{
		method: http.MethodGet,
		table:  "watchlist",
		query:  url.Values{"select": {"*"}, "user_id": {eq(userID)}, "order": {"created_at.desc"}},
	}, &items)
	return items, err
}

func (t *WatchlistTable) Find(ctx context.Context, userID string, movieID int) (domain.WatchlistItem, error) {
	var item domain.WatchlistItem
	err := t.c.do(ctx, request{
		method: http.MethodGet,
		table:  "watchlist",
		query:  url.Values{"select": {"*"}, "user_id": {eq(userID)}, "movie_id": {eq(movieID)}},
		single: true,
	}, &item)
	return item, err
}

func (t *WatchlistTable) Insert(ctx context.Context, userID string, movieID int) (domain.WatchlistItem, error) {
	var item domain.WatchlistItem
	err := t.c.do(ctx, request{
		method: http.MethodPost,
		table:  "watchlist",
		body:   map[string]any{"user_id": userID, "movie_id": movieID},
		single: true,
		prefer: []string{preferReturn},
	}, &item)
	return item, err
}

func (t *WatchlistTable) Delete(ctx context.Context, userID string, movieID int) error {
	return t.c.do(ctx, request{
		method: http.MethodDelete,
		table:  "watchlist",
		query:  url.Values{"user_id": {eq(userID)}, "movie_id": {eq(movieID)}},
	}, nil)
}

// ReviewsTable is the reviews resource.
type ReviewsTable struct{ c *Client }

func (t *ReviewsTable) ListByMovie(ctx context.Context, movieID int) ([]domain.Review, error) {
	return t.list(ctx, "movie_id", eq(movieID))
}

func (t *ReviewsTable) ListByUser(ctx context.Context, userID string) ([]domain.Review, error) {
	return t.list(ctx, "user_id", eq(userID))
}

func (t *ReviewsTable) list(ctx context.Context, column, filter string) ([]domain.Review, error) {
	var reviews []domain.Review
	err := t.c.do(ctx, request{
		method: http.MethodGet,
		table:  "reviews",
		query:  url.Values{"select": {"*"}, column: {filter}, "order": {"created_at.desc"}},
	}, &reviews)
	return reviews, err
}

func (t *ReviewsTable) Find(ctx context.Context, userID string, movieID int) (domain.Review, error) {
	var review domain.Review
	err := t.c.do(ctx, request{
		method: http.MethodGet,
		table:  "reviews",
		query:  url.Values{"select": {"*"}, "user_id": {eq(userID)}, "movie_id": {eq(movieID)}},
		single: true,
	}, &review)
	return review, err
}

func (t *ReviewsTable) Insert(ctx context.Context, userID string, movieID int, in domain.ReviewInput) (domain.Review, error) {
	var review domain.Review
	err := t.c.do(ctx, request{
		method: http.MethodPost,
		table:  "reviews",
		body: map[string]any{
			"user_id":  userID,
			"movie_id": movieID,
			"rating":   in.Rating,
			"comment":  in.Comment,
		},
		single: true,
		prefer: []string{preferReturn},
	}, &review)
	return review, err
}

func (t *ReviewsTable) Update(ctx context.Context, id string, in domain.ReviewInput) (domain.Review, error) {
	var review domain.Review
	err := t.c.do(ctx, request{
		method: http.MethodPatch,
		table:  "reviews",
		query:  url.Values{"id": {eq(id)}},
		body: map[string]any{
			"rating":     in.Rating,
			"comment":    in.Comment,
			"updated_at": time.Now().UTC().Format(time.RFC3339Nano),
		},
		single: true,
		prefer: []string{preferReturn},
	}, &review)
	if isNoRows(err) {
		return domain.Review{}, t.c.ownerMismatch(ctx, "reviews", "id", id)
	}
	return review, err
}

func (t *ReviewsTable) Delete(ctx context.Context, id string) error {
	var deleted []struct {
		ID string `json:"id"`
	}
	err := t.c.do(ctx, request{
		method: http.MethodDelete,
		table:  "reviews",
		query:  url.Values{"id": {eq(id)}, "select": {"id"}},
		prefer: []string{preferReturn},
	}, &deleted)
	if err != nil {
		return err
	}
	if len(deleted) == 0 {
		return t.c.ownerMismatch(ctx, "reviews", "id", id)
	}
	return nil
}

// ProfilesTable is the profiles resource.
type ProfilesTable struct{ c *Client }

func (t *ProfilesTable) Get(ctx context.Context, userID string) (domain.Profile, error) {
	var profile domain.Profile
	err := t.c.do(ctx, request{
		method: http.MethodGet,
		table:  "profiles",
		query:  url.Values{"select": {"*"}, "id": {eq(userID)}},
		single: true,
	}, &profile)
	return profile, err
}

func (t *ProfilesTable) Upsert(ctx context.Context, userID string, in domain.ProfileInput) (domain.Profile, error) {
	var username any
	if in.Username != "" {
		username = in.Username
	}
	var profile domain.Profile
	err := t.c.do(ctx, request{
		method: http.MethodPost,
		table:  "profiles",
		query:  url.Values{"on_conflict": {"id"}},
		body: map[string]any{
			"id":         userID,
			"username":   username,
			"full_name":  in.FullName,
			"updated_at": time.Now().UTC().Format(time.RFC3339Nano),
		},
		single: true,
		prefer: []string{preferMerge, preferReturn},
	}, &profile)
	return profile, err
}
