package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Clark-Hu/cinelist/internal/auth"
	"github.com/Clark-Hu/cinelist/internal/config"
	"github.com/Clark-Hu/cinelist/internal/domain"
	"github.com/Clark-Hu/cinelist/internal/logging"
	"github.com/Clark-Hu/cinelist/internal/mutation"
	"github.com/Clark-Hu/cinelist/internal/queries"
)

// Session is the part of the auth holder the handlers use.
type Session interface {
	Snapshot() auth.Snapshot
	SignIn(ctx context.Context, email, password string) (domain.Identity, error)
	SignUp(ctx context.Context, email, password string) (*auth.SignUpResult, error)
	SignOut(ctx context.Context) error
	UpdatePassword(ctx context.Context, password string) error
	ResetPassword(ctx context.Context, email, redirectTo string) error
}

// HealthChecker reports whether the backend is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps are the collaborators of the server. Health may be nil.
type Deps struct {
	Reader    *queries.Reader
	Mutations *mutation.Coordinator
	Session   Session
	Health    HealthChecker
	Logger    *log.Logger
}

// Server wires HTTP routing, middleware, and handlers.
type Server struct {
	cfg       config.Config
	reader    *queries.Reader
	mutations *mutation.Coordinator
	session   Session
	health    HealthChecker
	logger    *log.Logger
	router    chi.Router
	httpSrv   *http.Server
}

// New constructs the HTTP server with base middleware and routes.
func New(cfg config.Config, deps Deps) *Server {
	logger := logging.Component(deps.Logger, "http")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	s := &Server{
		cfg:       cfg,
		reader:    deps.Reader,
		mutations: deps.Mutations,
		session:   deps.Session,
		health:    deps.Health,
		logger:    logger,
		router:    r,
	}
	s.registerRoutes()
	return s
}

// Handler exposes the router, e.g. for httptest.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.handleHealthz)

	s.router.Route("/movies", func(r chi.Router) {
		r.Get("/popular", s.handlePopular)
		r.Get("/top-rated", s.handleTopRated)
		r.Get("/upcoming", s.handleUpcoming)
		r.Get("/now-playing", s.handleNowPlaying)
		r.Get("/trending/{window}", s.handleTrending)
		r.Route("/{movieID}", func(r chi.Router) {
			r.Get("/", s.handleMovie)
			r.Get("/credits", s.handleCredits)
			r.Get("/similar", s.handleSimilar)
			r.Get("/recommendations", s.handleRecommendations)
			r.Get("/reviews", s.handleMovieReviews)

			r.Group(func(r chi.Router) {
				r.Use(s.requireUser)
				r.Get("/watchlist", s.handleWatchlistStatus)
				r.Post("/watchlist", s.handleWatchlistAdd)
				r.Delete("/watchlist", s.handleWatchlistRemove)
				r.Get("/reviews/mine", s.handleMyReview)
				r.Post("/reviews/mine", s.handleSubmitReview)
			})
		})
	})
	s.router.Get("/genres", s.handleGenres)
	s.router.Get("/genres/{genreID}/movies", s.handleGenreMovies)
	s.router.Get("/search/movies", s.handleSearchMovies)
	s.router.Get("/search/people", s.handleSearchPeople)
	s.router.Route("/people", func(r chi.Router) {
		r.Get("/popular", s.handlePopularPeople)
		r.Get("/{personID}", s.handlePerson)
		r.Get("/{personID}/credits", s.handlePersonCredits)
	})

	s.router.Group(func(r chi.Router) {
		r.Use(s.requireUser)
		r.Get("/watchlist", s.handleWatchlist)
		r.Get("/reviews", s.handleUserReviews)
		r.Put("/reviews/{reviewID}", s.handleUpdateReview)
		r.Delete("/reviews/{reviewID}", s.handleDeleteReview)
		r.Get("/profile", s.handleProfile)
		r.Put("/profile", s.handleUpdateProfile)
	})

	s.router.Route("/auth", func(r chi.Router) {
		r.Get("/session", s.handleSession)
		r.Post("/login", s.handleLogin)
		r.Post("/signup", s.handleSignUp)
		r.Post("/logout", s.handleLogout)
		r.Post("/recover", s.handleRecover)
		r.With(s.requireUser).Post("/password", s.handleUpdatePassword)
	})
}

// Start boots the HTTP server and blocks until ctx is done or it fails.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.IdleTimeoutSecs) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if s.health != nil {
		if err := s.health.HealthCheck(ctx); err != nil {
			s.logger.Warn("health check failed", "err", err)
			s.respondError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Backend is unreachable")
			return
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func requestLogger(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
