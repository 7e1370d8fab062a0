// Command tmdb-mock serves a small fixed catalogue on the TMDB v3 paths the
// client uses, for local development without an API key.
package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/Clark-Hu/cinelist/internal/domain"
	"github.com/Clark-Hu/cinelist/internal/logging"
)

//go:embed mock-tmdb.json
var defaultData []byte

const pageSize = 20

type movieEntry struct {
	domain.MovieDetails
	Cast []domain.CastMember `json:"cast"`
}

type dataset struct {
	Genres []domain.Genre         `json:"genres"`
	Movies []movieEntry           `json:"movies"`
	People []domain.PersonDetails `json:"people"`
}

func main() {
	app := &cli.Command{
		Name:  "tmdb-mock",
		Usage: "Serve a fixed movie catalogue on TMDB v3 paths",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "port", Value: "9099", Usage: "port to listen on"},
			&cli.StringFlag{Name: "data", Usage: "path to mock data file (defaults to the built-in catalogue)"},
			&cli.StringFlag{Name: "api-key", Usage: "reject requests without this api_key"},
			&cli.BoolFlag{Name: "log", Usage: "enable request logging"},
		},
		Action: run,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal("tmdb-mock", "err", err)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	logger := logging.New(os.Stderr, logging.Options{})
	if !cmd.Bool("log") {
		logger.SetLevel(log.WarnLevel)
	}

	raw := defaultData
	if path := cmd.String("data"); path != "" {
		file, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read mock data: %w", err)
		}
		raw = file
	}
	var data dataset
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("parse mock data: %w", err)
	}
	logger.Info("loaded mock catalogue", "movies", len(data.Movies), "people", len(data.People))

	srv := &http.Server{
		Addr:              ":" + cmd.String("port"),
		Handler:           newRouter(&data, cmd.String("api-key"), logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Warn("mock tmdb listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func newRouter(data *dataset, apiKey string, logger *log.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			logger.Info("request", "method", req.Method, "path", req.URL.Path)
			if apiKey != "" && req.URL.Query().Get("api_key") != apiKey {
				writeStatus(w, http.StatusUnauthorized, "Invalid API key: You must be granted a valid key.")
				return
			}
			next.ServeHTTP(w, req)
		})
	})

	byPopularity := func(less func(a, b movieEntry) bool) http.HandlerFunc {
		return func(w http.ResponseWriter, req *http.Request) {
			movies := append([]movieEntry(nil), data.Movies...)
			sort.SliceStable(movies, func(i, j int) bool { return less(movies[i], movies[j]) })
			writePage(w, req, listMovies(movies))
		}
	}
	popular := byPopularity(func(a, b movieEntry) bool { return a.Popularity > b.Popularity })
	topRated := byPopularity(func(a, b movieEntry) bool { return a.VoteAverage > b.VoteAverage })
	newest := byPopularity(func(a, b movieEntry) bool { return a.ReleaseDate > b.ReleaseDate })

	r.Route("/3", func(r chi.Router) {
		r.Get("/trending/movie/{window}", func(w http.ResponseWriter, req *http.Request) {
			switch chi.URLParam(req, "window") {
			case "day", "week":
				popular(w, req)
			default:
				writeStatus(w, http.StatusNotFound, "The resource you requested could not be found.")
			}
		})
		r.Get("/movie/popular", popular)
		r.Get("/movie/top_rated", topRated)
		r.Get("/movie/upcoming", newest)
		r.Get("/movie/now_playing", newest)
		r.Get("/movie/{id}", func(w http.ResponseWriter, req *http.Request) {
			if m, ok := findMovie(data, req); ok {
				writeJSON(w, m.MovieDetails)
				return
			}
			writeStatus(w, http.StatusNotFound, "The resource you requested could not be found.")
		})
		r.Get("/movie/{id}/credits", func(w http.ResponseWriter, req *http.Request) {
			m, ok := findMovie(data, req)
			if !ok {
				writeStatus(w, http.StatusNotFound, "The resource you requested could not be found.")
				return
			}
			cast := m.Cast
			if cast == nil {
				cast = []domain.CastMember{}
			}
			writeJSON(w, domain.Credits{ID: m.ID, Cast: cast, Crew: []domain.CrewMember{}})
		})
		related := func(w http.ResponseWriter, req *http.Request) {
			m, ok := findMovie(data, req)
			if !ok {
				writeStatus(w, http.StatusNotFound, "The resource you requested could not be found.")
				return
			}
			var out []domain.Movie
			for _, other := range data.Movies {
				if other.ID != m.ID && sharesGenre(m.GenreIDs, other.GenreIDs) {
					out = append(out, other.Movie)
				}
			}
			writePage(w, req, out)
		}
		r.Get("/movie/{id}/similar", related)
		r.Get("/movie/{id}/recommendations", related)
		r.Get("/genre/movie/list", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, map[string][]domain.Genre{"genres": data.Genres})
		})
		r.Get("/discover/movie", func(w http.ResponseWriter, req *http.Request) {
			genre, _ := strconv.Atoi(req.URL.Query().Get("with_genres"))
			var out []domain.Movie
			for _, m := range data.Movies {
				if genre == 0 || sharesGenre([]int{genre}, m.GenreIDs) {
					out = append(out, m.Movie)
				}
			}
			writePage(w, req, out)
		})
		r.Get("/search/movie", func(w http.ResponseWriter, req *http.Request) {
			q := strings.ToLower(strings.TrimSpace(req.URL.Query().Get("query")))
			var out []domain.Movie
			for _, m := range data.Movies {
				if q != "" && strings.Contains(strings.ToLower(m.Title), q) {
					out = append(out, m.Movie)
				}
			}
			writePage(w, req, out)
		})
		r.Get("/person/popular", func(w http.ResponseWriter, req *http.Request) {
			writePage(w, req, listPeople(data.People, ""))
		})
		r.Get("/search/person", func(w http.ResponseWriter, req *http.Request) {
			q := strings.ToLower(strings.TrimSpace(req.URL.Query().Get("query")))
			if q == "" {
				writePage(w, req, []domain.Person{})
				return
			}
			writePage(w, req, listPeople(data.People, q))
		})
		r.Get("/person/{id}", func(w http.ResponseWriter, req *http.Request) {
			if p, ok := findPerson(data, req); ok {
				writeJSON(w, p)
				return
			}
			writeStatus(w, http.StatusNotFound, "The resource you requested could not be found.")
		})
		r.Get("/person/{id}/movie_credits", func(w http.ResponseWriter, req *http.Request) {
			p, ok := findPerson(data, req)
			if !ok {
				writeStatus(w, http.StatusNotFound, "The resource you requested could not be found.")
				return
			}
			credits := domain.PersonCredits{ID: p.ID, Cast: []domain.PersonCastCredit{}, Crew: []domain.PersonCrewCredit{}}
			for _, m := range data.Movies {
				for _, c := range m.Cast {
					if c.ID == p.ID {
						credits.Cast = append(credits.Cast, domain.PersonCastCredit{Movie: m.Movie, Character: c.Character})
					}
				}
			}
			writeJSON(w, credits)
		})
	})
	return r
}

func listMovies(entries []movieEntry) []domain.Movie {
	out := make([]domain.Movie, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Movie)
	}
	return out
}

func listPeople(people []domain.PersonDetails, query string) []domain.Person {
	out := []domain.Person{}
	for _, p := range people {
		if query == "" || strings.Contains(strings.ToLower(p.Name), query) {
			out = append(out, p.Person)
		}
	}
	return out
}

func findMovie(data *dataset, req *http.Request) (movieEntry, bool) {
	id, err := strconv.Atoi(chi.URLParam(req, "id"))
	if err != nil {
		return movieEntry{}, false
	}
	for _, m := range data.Movies {
		if m.ID == id {
			return m, true
		}
	}
	return movieEntry{}, false
}

func findPerson(data *dataset, req *http.Request) (domain.PersonDetails, bool) {
	id, err := strconv.Atoi(chi.URLParam(req, "id"))
	if err != nil {
		return domain.PersonDetails{}, false
	}
	for _, p := range data.People {
		if p.ID == id {
			return p, true
		}
	}
	return domain.PersonDetails{}, false
}

func sharesGenre(a, b []int) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func writePage[T any](w http.ResponseWriter, req *http.Request, items []T) {
	page, err := strconv.Atoi(req.URL.Query().Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	total := len(items)
	start := min((page-1)*pageSize, total)
	end := min(start+pageSize, total)
	results := items[start:end]
	if results == nil {
		results = []T{}
	}
	writeJSON(w, domain.Page[T]{
		Page:         page,
		Results:      results,
		TotalPages:   max(1, (total+pageSize-1)/pageSize),
		TotalResults: total,
	})
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeStatus(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success":        false,
		"status_code":    34,
		"status_message": message,
	})
}
