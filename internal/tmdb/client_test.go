package tmdb

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewHTTPClient(Options{BaseURL: srv.URL + "/3", APIKey: "key", Attempts: 3})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	return client
}

func TestPopularDecodesPage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/3/movie/popular" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("api_key") != "key" {
			t.Errorf("api_key missing")
		}
		if r.URL.Query().Get("page") != "2" {
			t.Errorf("page = %s, want 2", r.URL.Query().Get("page"))
		}
		_, _ = w.Write([]byte(`{"page":2,"results":[{"id":603,"title":"The Matrix","poster_path":"/p.jpg"}],"total_pages":9,"total_results":170}`))
	})

	page, err := client.Popular(context.Background(), 2)
	if err != nil {
		t.Fatalf("Popular: %v", err)
	}
	if page.Page != 2 || page.TotalPages != 9 || len(page.Results) != 1 {
		t.Fatalf("unexpected page: %+v", page)
	}
	if page.Results[0].PosterPath == nil || *page.Results[0].PosterPath != "/p.jpg" {
		t.Fatalf("poster path not passed through: %+v", page.Results[0])
	}
}

func TestEmptyResultsAreNeverNil(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"page":1,"total_pages":0,"total_results":0}`))
	})
	page, err := client.SearchMovies(context.Background(), "zzz", 0)
	if err != nil {
		t.Fatalf("SearchMovies: %v", err)
	}
	if page.Results == nil {
		t.Fatalf("results should be an empty slice")
	}
}

func TestTrendingRejectsUnknownWindow(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected")
	})
	if _, err := client.Trending(context.Background(), "month", 1); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("Trending error = %v, want ErrInvalidWindow", err)
	}
}

func TestNotFoundIsNotRetried(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	})
	if _, err := client.Movie(context.Background(), 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Movie error = %v, want ErrNotFound", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestThrottlingIsRetried(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"status_message":"slow down"}`))
			return
		}
		_, _ = w.Write([]byte(`{"genres":[{"id":18,"name":"Drama"}]}`))
	})
	genres, err := client.Genres(context.Background())
	if err != nil {
		t.Fatalf("Genres: %v", err)
	}
	if len(genres) != 1 || genres[0].Name != "Drama" {
		t.Fatalf("unexpected genres: %+v", genres)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestServerErrorSurfacesStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := client.PersonCredits(context.Background(), 287)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusBadGateway {
		t.Fatalf("error = %v, want StatusError 502", err)
	}
}

func TestDiscoverByGenreQuery(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/3/discover/movie" || r.URL.Query().Get("with_genres") != "28" {
			t.Errorf("unexpected request %s?%s", r.URL.Path, r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"page":1,"results":[]}`))
	})
	if _, err := client.DiscoverByGenre(context.Background(), 28, 1); err != nil {
		t.Fatalf("DiscoverByGenre: %v", err)
	}
}
