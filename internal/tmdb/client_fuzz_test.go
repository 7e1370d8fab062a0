package tmdb

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func FuzzSearchQueryRoundTrip(f *testing.F) {
	f.Add("The Matrix", 1)
	f.Add("amélie & co?page=9", 3)
	f.Add("", -1)

	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query().Get("query")
		if r.URL.Query().Get("api_key") != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"page":1,"results":[]}`))
	}))
	defer srv.Close()

	client, err := NewHTTPClient(Options{BaseURL: srv.URL, APIKey: "key"})
	if err != nil {
		f.Fatalf("create client: %v", err)
	}

	f.Fuzz(func(t *testing.T, query string, page int) {
		if _, err := client.SearchMovies(context.Background(), query, page); err != nil {
			t.Fatalf("SearchMovies(%q): %v", query, err)
		}
		if got != query {
			t.Fatalf("server saw query %q, want %q", got, query)
		}
	})
}

func FuzzPageQuery(f *testing.F) {
	f.Add(0)
	f.Add(7)
	f.Fuzz(func(t *testing.T, page int) {
		q := pageQuery(page)
		if q.Get("page") == "" || q.Get("page") == "0" || q.Get("page")[0] == '-' {
			t.Fatalf("pageQuery(%d) = %q", page, q.Get("page"))
		}
	})
}
