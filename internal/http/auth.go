package httpserver

import (
	"context"
	"net/http"
	"strings"

	"github.com/Clark-Hu/cinelist/internal/domain"
)

type ctxKey int

const userIDKey ctxKey = iota

// requireUser is the auth gate. A session that is still loading answers 503
// so clients retry instead of bouncing to the login page.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := s.session.Snapshot()
		if snap.IsLoading() {
			s.respondSessionLoading(w)
			return
		}
		id, ok := snap.Authenticated()
		if !ok {
			s.respondUnauthenticated(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, id.ID)))
	})
}

func userID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	State string           `json:"state"`
	User  *domain.Identity `json:"user,omitempty"`
}

type signUpResponse struct {
	User                domain.Identity `json:"user"`
	ConfirmationPending bool            `json:"confirmationPending"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

type recoverRequest struct {
	Email      string `json:"email"`
	RedirectTo string `json:"redirectTo"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	snap := s.session.Snapshot()
	resp := sessionResponse{State: snap.State.String()}
	if id, ok := snap.Authenticated(); ok {
		resp.User = &id
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) decodeCredentials(w http.ResponseWriter, r *http.Request) (credentialsRequest, bool) {
	var req credentialsRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return req, false
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "email and password are required")
		return req, false
	}
	return req, true
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeCredentials(w, r)
	if !ok {
		return
	}
	identity, err := s.session.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, sessionResponse{State: "authenticated", User: &identity})
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeCredentials(w, r)
	if !ok {
		return
	}
	res, err := s.session.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, signUpResponse{User: res.User, ConfirmationPending: res.ConfirmationPending})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.session.SignOut(r.Context()); err != nil {
		// The local session is gone either way.
		s.logger.Warn("sign out at provider failed", "err", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdatePassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	if len(req.Password) < 6 {
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "password must be at least 6 characters")
		return
	}
	if err := s.session.UpdatePassword(r.Context(), req.Password); err != nil {
		s.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	var req recoverRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "email is required")
		return
	}
	if err := s.session.ResetPassword(r.Context(), req.Email, req.RedirectTo); err != nil {
		s.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
