package postgrest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/Clark-Hu/cinelist/internal/backend"
	"github.com/Clark-Hu/cinelist/internal/domain"
)

type failingTokens struct{}

func (failingTokens) Token() (*oauth2.Token, error) { return nil, errors.New("no session") }

func newTestClient(t *testing.T, handler http.HandlerFunc, tokens oauth2.TokenSource) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Options{BaseURL: srv.URL + "/rest/v1", APIKey: "anon", Tokens: tokens})
	require.NoError(t, err)
	return c
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"code": code, "message": msg})
}

func TestListSendsHeadersAndFilters(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/watchlist", r.URL.Path)
		assert.Equal(t, "eq.u1", r.URL.Query().Get("user_id"))
		assert.Equal(t, "created_at.desc", r.URL.Query().Get("order"))
		assert.Equal(t, "anon", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
		assert.Equal(t, mediaJSON, r.Header.Get("Accept"))
		assert.NotEmpty(t, r.Header.Get("X-Request-Id"))
		_, _ = w.Write([]byte(`[{"id":"w1","user_id":"u1","movie_id":603,"created_at":"2024-05-01T10:00:00Z"}]`))
	}, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "user-token"}))

	items, err := c.Watchlist.List(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 603, items[0].MovieID)
}

func TestAnonymousBearerWithoutSession(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer anon", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[]`))
	}, failingTokens{})

	_, err := c.Reviews.ListByMovie(context.Background(), 42)
	require.NoError(t, err)
}

func TestSingleRowNotFoundMapsThroughBackend(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, mediaObject, r.Header.Get("Accept"))
		writeError(w, http.StatusNotAcceptable, "PGRST116", "JSON object requested, multiple (or no) rows returned")
	}, nil)

	_, err := c.Watchlist.Find(context.Background(), "u1", 1)
	require.Error(t, err)
	assert.Equal(t, "PGRST116", backend.CodeOf(err))
	assert.ErrorIs(t, backend.Classify(err, "find"), backend.ErrNotFound)
}

func TestInsertDuplicateIsNotRetried(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.Header.Get("Prefer"), preferReturn)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "u1", body["user_id"])
		writeError(w, http.StatusConflict, "23505", "duplicate key value violates unique constraint")
	}, nil)

	_, err := c.Watchlist.Insert(context.Background(), "u1", 603)
	assert.ErrorIs(t, backend.Classify(err, "insert"), backend.ErrAlreadyExists)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestGetRetriesTransientFailures(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			writeError(w, http.StatusServiceUnavailable, "", "")
			return
		}
		_, _ = w.Write([]byte(`{"id":"u1","username":null,"full_name":"Ada","avatar_url":"","updated_at":"2024-05-01T10:00:00Z"}`))
	}, nil)

	profile, err := c.Profiles.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", profile.FullName)
	assert.Empty(t, profile.Username)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestUpdateOfForeignReviewIsPermissionDenied(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPatch:
			writeError(w, http.StatusNotAcceptable, "PGRST116", "no rows")
		case http.MethodGet:
			_, _ = w.Write([]byte(`[{"id":"r1"}]`))
		}
	}, nil)

	_, err := c.Reviews.Update(context.Background(), "r1", domain.ReviewInput{Rating: 2})
	assert.ErrorIs(t, backend.Classify(err, "update"), backend.ErrPermissionDenied)
}

func TestDeleteOfMissingReviewIsNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}, nil)

	err := c.Reviews.Delete(context.Background(), "missing")
	assert.ErrorIs(t, backend.Classify(err, "delete"), backend.ErrNotFound)
}

func TestProfileUpsertMergesDuplicates(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "id", r.URL.Query().Get("on_conflict"))
		assert.Contains(t, r.Header.Get("Prefer"), preferMerge)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Nil(t, body["username"], "empty username is sent as null")
		_, _ = w.Write([]byte(`{"id":"u1","full_name":"Ada"}`))
	}, nil)

	profile, err := c.Profiles.Upsert(context.Background(), "u1", domain.ProfileInput{FullName: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "u1", profile.ID)
}

func TestAPIErrorBackendCodeFallsBackToStatus(t *testing.T) {
	err := &APIError{Status: http.StatusForbidden}
	assert.Equal(t, "403", err.BackendCode())
	assert.False(t, err.retryable())
	assert.True(t, (&APIError{Status: http.StatusNotAcceptable}).retryable())
	assert.False(t, (&APIError{Status: http.StatusNotAcceptable, Code: "PGRST116"}).retryable())
}
