package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPageParam(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		want    int
		wantErr bool
	}{
		{"default", "", 1, false},
		{"explicit", "page=7", 7, false},
		{"zero", "page=0", 0, true},
		{"beyond tmdb limit", "page=501", 0, true},
		{"not a number", "page=two", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/movies/popular?"+tt.query, nil)
			got, err := pageParam(req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("pageParam(%q) error = %v, wantErr %v", tt.query, err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("pageParam(%q) = %d, want %d", tt.query, got, tt.want)
			}
		})
	}
}

func FuzzPageParam(f *testing.F) {
	for _, seed := range []string{"1", "500", "-3", "", "9999999999999999999"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, raw string) {
		req := httptest.NewRequest(http.MethodGet, "/movies/popular", nil)
		q := req.URL.Query()
		q.Set("page", raw)
		req.URL.RawQuery = q.Encode()
		page, err := pageParam(req)
		if err == nil && (page < 1 || page > 500) {
			t.Fatalf("pageParam accepted %q as %d", raw, page)
		}
	})
}

func BenchmarkPopularCached(b *testing.B) {
	env := buildTestServer(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rec := env.do(b, http.MethodGet, "/movies/popular", "")
		if rec.Code != http.StatusOK {
			b.Fatalf("unexpected status %d", rec.Code)
		}
	}
}
