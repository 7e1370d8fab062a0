package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Clark-Hu/cinelist/internal/auth"
	"github.com/Clark-Hu/cinelist/internal/backend"
	"github.com/Clark-Hu/cinelist/internal/domain"
	"github.com/Clark-Hu/cinelist/internal/mutation"
	"github.com/Clark-Hu/cinelist/internal/tmdb"
)

const maxRequestBody = 1 << 20 // 1 MiB

type errorResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type redirectDetails struct {
	RedirectTo string `json:"redirectTo"`
}

type retryDetails struct {
	Retryable bool `json:"retryable"`
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			s.logger.Error("failed to encode response", "err", err)
		}
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, code, message string) {
	s.respondJSON(w, status, errorResponse{
		Code:    code,
		Message: message,
	})
}

func (s *Server) respondDecodeError(w http.ResponseWriter, err error) {
	var syntaxError *json.SyntaxError
	var typeError *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxError):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Malformed JSON payload")
	case errors.As(err, &typeError):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("Invalid value for field %s", typeError.Field))
	case errors.Is(err, io.EOF):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Request body cannot be empty")
	default:
		s.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Unable to parse request body")
	}
}

func (s *Server) respondUnauthenticated(w http.ResponseWriter) {
	s.respondJSON(w, http.StatusUnauthorized, errorResponse{
		Code:    "UNAUTHORIZED",
		Message: "Sign in to continue",
		Details: redirectDetails{RedirectTo: s.cfg.LoginPath},
	})
}

func (s *Server) respondSessionLoading(w http.ResponseWriter) {
	w.Header().Set("Retry-After", "1")
	s.respondError(w, http.StatusServiceUnavailable, "SESSION_LOADING", "Session is still loading")
}

// respondErr maps the error taxonomy of the lower layers onto statuses.
func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	var (
		be  *backend.Error
		tse *tmdb.StatusError
	)
	switch {
	case errors.Is(err, mutation.ErrMutationInFlight):
		s.respondError(w, http.StatusConflict, "IN_FLIGHT", "A change to this item is already being saved")
	case errors.Is(err, mutation.ErrSessionLoading):
		s.respondSessionLoading(w)
	case errors.Is(err, backend.ErrUnauthenticated), errors.Is(err, auth.ErrNoSession):
		s.respondUnauthenticated(w)
	case errors.Is(err, auth.ErrInvalidCredentials):
		s.respondError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password")
	case errors.Is(err, backend.ErrPermissionDenied):
		s.respondError(w, http.StatusForbidden, "FORBIDDEN", "You are not allowed to change this resource")
	case errors.Is(err, backend.ErrAlreadyExists):
		s.respondError(w, http.StatusOK, "ALREADY_EXISTS", "Already saved")
	case errors.Is(err, backend.ErrNotFound), errors.Is(err, tmdb.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found")
	case errors.Is(err, tmdb.ErrInvalidWindow):
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
	case errors.Is(err, domain.ErrRatingRequired),
		errors.Is(err, domain.ErrRatingOutOfRange),
		errors.Is(err, domain.ErrUsernameInvalid):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error())
	case errors.As(err, &be):
		s.logger.Warn("backend call failed", "path", r.URL.Path, "code", be.Code, "err", err)
		s.respondJSON(w, http.StatusBadGateway, errorResponse{
			Code:    "FETCH_FAILED",
			Message: "Failed to reach the backend",
			Details: retryDetails{Retryable: be.Retryable},
		})
	case errors.As(err, &tse):
		s.logger.Warn("catalogue call failed", "path", r.URL.Path, "status", tse.Status, "err", err)
		s.respondJSON(w, http.StatusBadGateway, errorResponse{
			Code:    "FETCH_FAILED",
			Message: "Failed to reach the movie catalogue",
			Details: retryDetails{Retryable: tse.Status == http.StatusTooManyRequests || tse.Status >= 500},
		})
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "err", err)
		s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Request failed")
	}
}

func intParam(r *http.Request, name string) (int, error) {
	raw := chi.URLParam(r, name)
	if raw == "" {
		return 0, fmt.Errorf("missing %s parameter", name)
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s parameter", name)
	}
	return v, nil
}

// pageParam reads ?page=, defaulting to 1. TMDB serves at most 500 pages.
func pageParam(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("page"))
	if raw == "" {
		return 1, nil
	}
	page, err := strconv.Atoi(raw)
	if err != nil || page < 1 || page > 500 {
		return 0, fmt.Errorf("invalid page value")
	}
	return page, nil
}
