package main

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Clark-Hu/cinelist/internal/auth"
	"github.com/Clark-Hu/cinelist/internal/backend"
	"github.com/Clark-Hu/cinelist/internal/config"
	"github.com/Clark-Hu/cinelist/internal/mutation"
	"github.com/Clark-Hu/cinelist/internal/postgrest"
	"github.com/Clark-Hu/cinelist/internal/queries"
	"github.com/Clark-Hu/cinelist/internal/querycache"
	"github.com/Clark-Hu/cinelist/internal/repository"
	"github.com/Clark-Hu/cinelist/internal/store"
	"github.com/Clark-Hu/cinelist/internal/tmdb"
)

// App holds the process-wide singletons.
type App struct {
	cfg       config.Config
	logger    *log.Logger
	store     *store.Store
	holder    *auth.Holder
	cache     *querycache.Cache
	reader    *queries.Reader
	mutations *mutation.Coordinator
}

func secs(n int) time.Duration { return time.Duration(n) * time.Second }

func cachePolicy(cfg config.Config) (querycache.Policy, error) {
	policy := queries.DefaultPolicy()
	policy.GCTime = secs(cfg.CacheGCSecs)
	policy.FetchTimeout = secs(cfg.CacheFetchTimeoutSecs)
	if cfg.CachePolicyFile == "" {
		return policy, nil
	}
	file, err := config.LoadCachePolicy(cfg.CachePolicyFile)
	if err != nil {
		return policy, err
	}
	return queries.ApplyPolicyFile(policy, file)
}

func openStore(ctx context.Context, cfg config.Config, logger *log.Logger) (*store.Store, error) {
	dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return store.New(dbCtx, cfg.DBURL, store.Options{
		MaxConns:               int32(cfg.DBMaxConns),
		MinConns:               int32(cfg.DBMinConns),
		MaxConnIdleTime:        secs(cfg.DBMaxIdleSecs),
		MaxConnLifetime:        secs(cfg.DBMaxLifeSecs),
		ConnTimeout:            secs(cfg.DBConnTimeoutSecs),
		StatementCacheCapacity: cfg.DBStatementCache,
		Logger:                 logger,
	})
}

// NewApp wires every component. The auth holder is not started yet.
func NewApp(ctx context.Context, cfg config.Config, logger *log.Logger) (*App, error) {
	policy, err := cachePolicy(cfg)
	if err != nil {
		return nil, err
	}

	provider, err := auth.NewGoTrue(auth.GoTrueOptions{
		BaseURL:   cfg.AuthURL,
		APIKey:    cfg.AuthAPIKey,
		JWTSecret: cfg.AuthJWTSecret,
		Store:     auth.NewFileSessionStore(cfg.SessionFile),
		Timeout:   secs(cfg.BackendTimeoutSecs),
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init auth provider: %w", err)
	}
	holder := auth.NewHolder(provider, auth.HolderOptions{Logger: logger})

	cache := querycache.New(querycache.Options{Policy: policy, Logger: logger})
	holder.OnIdentityChange(func(prev, next string) {
		if n := queries.PurgeUser(cache, prev); n > 0 {
			logger.Debug("purged cached user data", "user", prev, "entries", n)
		}
	})

	a := &App{cfg: cfg, logger: logger, holder: holder, cache: cache}

	var (
		watchlistStore backend.WatchlistStore
		reviewStore    backend.ReviewStore
		profileStore   backend.ProfileStore
	)
	switch cfg.BackendMode {
	case config.BackendPostgREST:
		client, err := postgrest.New(postgrest.Options{
			BaseURL: cfg.PostgRESTURL,
			APIKey:  cfg.PostgRESTAPIKey,
			Tokens:  holder,
			Timeout: secs(cfg.BackendTimeoutSecs),
			Logger:  logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init postgrest client: %w", err)
		}
		watchlistStore, reviewStore, profileStore = client.Watchlist, client.Reviews, client.Profiles
	default:
		st, err := openStore(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.store = st
		repo := repository.New(st, holder.SessionUserID)
		watchlistStore, reviewStore, profileStore = repo.Watchlist, repo.Reviews, repo.Profiles
	}

	catalogue, err := tmdb.NewHTTPClient(tmdb.Options{
		BaseURL:   cfg.TMDBBaseURL,
		APIKey:    cfg.TMDBAPIKey,
		Timeout:   secs(cfg.TMDBTimeoutSecs),
		RateLimit: cfg.TMDBRateLimit,
		Logger:    logger,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init tmdb client: %w", err)
	}

	opts := backend.Options{Timeout: secs(cfg.BackendTimeoutSecs), Logger: logger}
	watchlist := backend.NewWatchlist(watchlistStore, holder, opts)
	reviews := backend.NewReviews(reviewStore, holder, opts)
	profiles := backend.NewProfiles(profileStore, holder, opts)

	a.reader = queries.NewReader(cache, queries.Sources{
		Catalogue: catalogue,
		Watchlist: watchlist,
		Reviews:   reviews,
		Profiles:  profiles,
	})
	a.mutations = mutation.New(mutation.Options{
		Auth:      holder,
		Cache:     cache,
		Watchlist: watchlist,
		Reviews:   reviews,
		Profiles:  profiles,
		Logger:    logger,
	})
	return a, nil
}

// CurrentUser returns the signed-in user id or backend.ErrUnauthenticated.
func (a *App) CurrentUser() (string, error) {
	id, ok := a.holder.Snapshot().Authenticated()
	if !ok {
		return "", backend.ErrUnauthenticated
	}
	return id.ID, nil
}

// Close releases the store and stops background work.
func (a *App) Close() {
	a.holder.Stop()
	a.cache.Wait()
	if a.store != nil {
		a.store.Close()
	}
}
