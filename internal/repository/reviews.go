package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Clark-Hu/cinelist/internal/domain"
)

// ReviewsRepository provides access to the reviews table.
type ReviewsRepository struct {
	scope
}

const reviewColumns = `id, user_id, movie_id, rating, comment, created_at, updated_at`

// ListByMovie returns all reviews of a movie, newest first.
func (r *ReviewsRepository) ListByMovie(ctx context.Context, movieID int) ([]domain.Review, error) {
	const query = `SELECT ` + reviewColumns + ` FROM reviews WHERE movie_id = $1 ORDER BY created_at DESC, id`
	return r.list(ctx, query, movieID)
}

// ListByUser returns all reviews written by a user, newest first.
func (r *ReviewsRepository) ListByUser(ctx context.Context, userID string) ([]domain.Review, error) {
	const query = `SELECT ` + reviewColumns + ` FROM reviews WHERE user_id = $1 ORDER BY created_at DESC, id`
	return r.list(ctx, query, userID)
}

func (r *ReviewsRepository) list(ctx context.Context, query string, arg any) ([]domain.Review, error) {
	var reviews []domain.Review
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, arg)
		if err != nil {
			return fmt.Errorf("list reviews: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			review, err := scanReview(rows)
			if err != nil {
				return err
			}
			reviews = append(reviews, review)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return reviews, nil
}

// Find returns the user's review of a movie or ErrNotFound.
func (r *ReviewsRepository) Find(ctx context.Context, userID string, movieID int) (domain.Review, error) {
	const query = `SELECT ` + reviewColumns + ` FROM reviews WHERE user_id = $1 AND movie_id = $2`

	var review domain.Review
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		review, err = scanReview(tx.QueryRow(ctx, query, userID, movieID))
		return err
	})
	return review, err
}

// Insert stores a new review; created_at and updated_at start equal.
func (r *ReviewsRepository) Insert(ctx context.Context, userID string, movieID int, in domain.ReviewInput) (domain.Review, error) {
	const query = `
        INSERT INTO reviews (user_id, movie_id, rating, comment, created_at, updated_at)
        VALUES ($1, $2, $3, $4, now(), now())
        RETURNING ` + reviewColumns

	var review domain.Review
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		review, err = scanReview(tx.QueryRow(ctx, query, userID, movieID, in.Rating, in.Comment))
		if err != nil {
			return fmt.Errorf("insert review: %w", err)
		}
		return nil
	})
	return review, err
}

// Update rewrites rating and comment and bumps updated_at.
func (r *ReviewsRepository) Update(ctx context.Context, id string, in domain.ReviewInput) (domain.Review, error) {
	const query = `
        UPDATE reviews
        SET rating = $2, comment = $3, updated_at = now()
        WHERE id = $1
        RETURNING ` + reviewColumns

	var review domain.Review
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		review, err = scanReview(tx.QueryRow(ctx, query, id, in.Rating, in.Comment))
		if errors.Is(err, ErrNotFound) {
			return ownerMismatch(ctx, tx, "reviews", id)
		}
		if err != nil {
			return fmt.Errorf("update review: %w", err)
		}
		return nil
	})
	return review, err
}

// Delete removes a review owned by the actor.
func (r *ReviewsRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM reviews WHERE id = $1`
	return r.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, query, id)
		if err != nil {
			return fmt.Errorf("delete review: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ownerMismatch(ctx, tx, "reviews", id)
		}
		return nil
	})
}

func scanReview(row pgx.Row) (domain.Review, error) {
	var (
		review domain.Review
		rating int16
	)
	err := row.Scan(
		&review.ID,
		&review.UserID,
		&review.MovieID,
		&rating,
		&review.Comment,
		&review.CreatedAt,
		&review.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Review{}, ErrNotFound
		}
		return domain.Review{}, err
	}
	review.Rating = int(rating)
	return review, nil
}
