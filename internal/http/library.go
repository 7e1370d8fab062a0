package httpserver

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Clark-Hu/cinelist/internal/backend"
	"github.com/Clark-Hu/cinelist/internal/domain"
	"github.com/Clark-Hu/cinelist/internal/mutation"
)

type watchlistStatusResponse struct {
	MovieID     int    `json:"movieId"`
	InWatchlist bool   `json:"inWatchlist"`
	Message     string `json:"message,omitempty"`
}

type myReviewResponse struct {
	Review *domain.Review `json:"review"`
}

func (s *Server) handleWatchlist(w http.ResponseWriter, r *http.Request) {
	items, err := s.reader.Watchlist(r.Context(), userID(r.Context()))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string][]domain.WatchlistItem{"items": items})
}

func (s *Server) handleWatchlistStatus(w http.ResponseWriter, r *http.Request) {
	movieID, err := intParam(r, "movieID")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	in, err := s.reader.InWatchlist(r.Context(), userID(r.Context()), movieID)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, watchlistStatusResponse{MovieID: movieID, InWatchlist: in})
}

func (s *Server) handleWatchlistAdd(w http.ResponseWriter, r *http.Request) {
	movieID, err := intParam(r, "movieID")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	item, err := s.mutations.AddToWatchlist(r.Context(), movieID, nil)
	switch {
	case errors.Is(err, backend.ErrAlreadyExists):
		s.respondJSON(w, http.StatusOK, watchlistStatusResponse{MovieID: movieID, InWatchlist: true, Message: "Already in watchlist"})
	case err != nil:
		s.respondErr(w, r, err)
	default:
		s.respondJSON(w, http.StatusCreated, item)
	}
}

func (s *Server) handleWatchlistRemove(w http.ResponseWriter, r *http.Request) {
	movieID, err := intParam(r, "movieID")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if err := s.mutations.RemoveFromWatchlist(r.Context(), movieID, nil); err != nil {
		s.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMovieReviews(w http.ResponseWriter, r *http.Request) {
	movieID, err := intParam(r, "movieID")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	reviews, err := s.reader.MovieReviews(r.Context(), movieID)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string][]domain.Review{"items": reviews})
}

func (s *Server) handleUserReviews(w http.ResponseWriter, r *http.Request) {
	reviews, err := s.reader.UserReviews(r.Context(), userID(r.Context()))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string][]domain.Review{"items": reviews})
}

func (s *Server) handleMyReview(w http.ResponseWriter, r *http.Request) {
	movieID, err := intParam(r, "movieID")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	review, err := s.reader.MyReview(r.Context(), userID(r.Context()), movieID)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, myReviewResponse{Review: review})
}

// handleSubmitReview creates the caller's review or edits the existing one.
// 201 means created, 200 means updated.
func (s *Server) handleSubmitReview(w http.ResponseWriter, r *http.Request) {
	movieID, err := intParam(r, "movieID")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	var req domain.ReviewInput
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}

	existing, err := s.reader.MyReview(r.Context(), userID(r.Context()), movieID)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	review, err := s.mutations.SubmitReview(r.Context(), movieID, req, mutation.NewOptimistic(existing))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	status := http.StatusOK
	if existing == nil {
		status = http.StatusCreated
	}
	s.respondJSON(w, status, review)
}

// targetReview resolves reviewID against the caller's reviews. An id the
// caller does not hold is still passed on so the backend can tell a foreign
// review (403) from a missing one (404).
func (s *Server) targetReview(r *http.Request) (domain.Review, error) {
	id := chi.URLParam(r, "reviewID")
	reviews, err := s.reader.UserReviews(r.Context(), userID(r.Context()))
	if err != nil {
		return domain.Review{}, err
	}
	for _, review := range reviews {
		if review.ID == id {
			return review, nil
		}
	}
	return domain.Review{ID: id}, nil
}

func (s *Server) handleUpdateReview(w http.ResponseWriter, r *http.Request) {
	var req domain.ReviewInput
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	existing, err := s.targetReview(r)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	review, err := s.mutations.UpdateReview(r.Context(), existing, req, nil)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, review)
}

func (s *Server) handleDeleteReview(w http.ResponseWriter, r *http.Request) {
	existing, err := s.targetReview(r)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if err := s.mutations.DeleteReview(r.Context(), existing, nil); err != nil {
		s.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	uid := userID(r.Context())
	profile, err := s.reader.Profile(r.Context(), uid)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if profile == nil {
		profile = &domain.Profile{ID: uid}
	}
	s.respondJSON(w, http.StatusOK, profile)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req domain.ProfileInput
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	profile, err := s.mutations.UpdateProfile(r.Context(), req, nil)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, profile)
}
