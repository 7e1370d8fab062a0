package domain

import (
	"errors"
	"strings"
	"time"
)

const (
	// RatingUnset is the client-side sentinel for "no star selected". It is never persisted.
	RatingUnset = 0
	MinRating   = 1
	MaxRating   = 5
)

var (
	// ErrRatingRequired is returned when a review is submitted without a rating.
	ErrRatingRequired = errors.New("rating is required")
	// ErrRatingOutOfRange is returned for ratings outside 1..5.
	ErrRatingOutOfRange = errors.New("rating must be between 1 and 5")
)

// Review represents a single user's review of a movie.
type Review struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	MovieID   int       `json:"movie_id"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Edited reports whether the review was updated after it was created.
func (r Review) Edited() bool {
	return !r.UpdatedAt.Equal(r.CreatedAt)
}

// ReviewInput is the payload of the review form.
type ReviewInput struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// Normalize trims the comment.
func (in ReviewInput) Normalize() ReviewInput {
	in.Comment = strings.TrimSpace(in.Comment)
	return in
}

// Validate checks the rating domain. An empty comment is allowed.
func (in ReviewInput) Validate() error {
	if in.Rating == RatingUnset {
		return ErrRatingRequired
	}
	if in.Rating < MinRating || in.Rating > MaxRating {
		return ErrRatingOutOfRange
	}
	return nil
}
