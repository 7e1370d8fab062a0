package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/Clark-Hu/cinelist/internal/backend"
	"github.com/Clark-Hu/cinelist/internal/config"
	"github.com/Clark-Hu/cinelist/internal/domain"
	httpserver "github.com/Clark-Hu/cinelist/internal/http"
)

// Serve runs the HTTP API until the process is interrupted. Session recovery
// runs in the background; the auth gate answers 503 until it finishes.
func (r *Runner) Serve(ctx context.Context, _ *cli.Command) error {
	cfg, err := r.loadConfig()
	if err != nil {
		return err
	}
	app, err := NewApp(ctx, cfg, r.logger)
	if err != nil {
		return err
	}
	defer app.Close()

	go func() {
		if err := app.holder.Start(ctx); err != nil {
			r.logger.Warn("session recovery failed", "err", err)
		}
	}()
	go app.cache.RunJanitor(ctx, time.Minute)

	deps := httpserver.Deps{
		Reader:    app.reader,
		Mutations: app.mutations,
		Session:   app.holder,
		Logger:    r.logger,
	}
	if app.store != nil {
		deps.Health = app.store
	}
	server := httpserver.New(cfg, deps)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Migrate applies the embedded migrations.
func (r *Runner) Migrate(ctx context.Context, _ *cli.Command) error {
	cfg, err := r.loadConfig()
	if err != nil {
		return err
	}
	if cfg.BackendMode != config.BackendPostgres {
		return fmt.Errorf("migrate requires BACKEND_MODE=%s", config.BackendPostgres)
	}
	st, err := openStore(ctx, cfg, r.logger)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer st.Close()

	version, err := st.Migrate(ctx)
	if err != nil {
		return err
	}
	r.writePlainln("database at version %d", version)
	return nil
}

func (r *Runner) Login(ctx context.Context, cmd *cli.Command) error {
	app, err := r.open(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	identity, err := app.holder.SignIn(ctx, cmd.String("email"), cmd.String("password"))
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	r.writePlainln("signed in as %s", identity.Email)
	return nil
}

func (r *Runner) Logout(ctx context.Context, _ *cli.Command) error {
	app, err := r.open(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.holder.SignOut(ctx); err != nil {
		r.logger.Warn("sign out at provider failed", "err", err)
	}
	r.writePlainln("signed out")
	return nil
}

func (r *Runner) WhoAmI(ctx context.Context, _ *cli.Command) error {
	app, err := r.open(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	identity, ok := app.holder.Snapshot().Authenticated()
	if !ok {
		r.writePlainln("not signed in")
		return nil
	}
	profile, err := app.reader.Profile(ctx, identity.ID)
	if err != nil {
		return err
	}
	return r.writeJSON(struct {
		User    domain.Identity `json:"user"`
		Profile *domain.Profile `json:"profile"`
	}{identity, profile})
}

func (r *Runner) WatchlistList(ctx context.Context, _ *cli.Command) error {
	app, err := r.open(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	uid, err := app.CurrentUser()
	if err != nil {
		return err
	}
	items, err := app.reader.Watchlist(ctx, uid)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		r.writePlainln("watchlist is empty")
		return nil
	}
	for _, item := range items {
		r.writePlainln("%d\tadded %s", item.MovieID, item.CreatedAt.Format(time.DateOnly))
	}
	return nil
}

func (r *Runner) WatchlistAdd(ctx context.Context, cmd *cli.Command) error {
	movieID, err := movieArg(cmd)
	if err != nil {
		return err
	}
	app, err := r.open(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	_, err = app.mutations.AddToWatchlist(ctx, movieID, nil)
	switch {
	case errors.Is(err, backend.ErrAlreadyExists):
		r.writePlainln("movie %d is already in your watchlist", movieID)
	case err != nil:
		return err
	default:
		r.writePlainln("added movie %d", movieID)
	}
	return nil
}

func (r *Runner) WatchlistRemove(ctx context.Context, cmd *cli.Command) error {
	movieID, err := movieArg(cmd)
	if err != nil {
		return err
	}
	app, err := r.open(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.mutations.RemoveFromWatchlist(ctx, movieID, nil); err != nil {
		return err
	}
	r.writePlainln("removed movie %d", movieID)
	return nil
}

func (r *Runner) ReviewList(ctx context.Context, cmd *cli.Command) error {
	app, err := r.open(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	var reviews []domain.Review
	if movieID := cmd.Int("movie"); movieID > 0 {
		reviews, err = app.reader.MovieReviews(ctx, movieID)
	} else {
		uid, uerr := app.CurrentUser()
		if uerr != nil {
			return uerr
		}
		reviews, err = app.reader.UserReviews(ctx, uid)
	}
	if err != nil {
		return err
	}
	return r.writeJSON(reviews)
}

func (r *Runner) ReviewSubmit(ctx context.Context, cmd *cli.Command) error {
	movieID, err := movieArg(cmd)
	if err != nil {
		return err
	}
	app, err := r.open(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	review, err := app.mutations.SubmitReview(ctx, movieID, domain.ReviewInput{
		Rating:  cmd.Int("rating"),
		Comment: cmd.String("comment"),
	}, nil)
	if err != nil {
		return err
	}
	return r.writeJSON(review)
}

func (r *Runner) ReviewDelete(ctx context.Context, cmd *cli.Command) error {
	movieID, err := movieArg(cmd)
	if err != nil {
		return err
	}
	app, err := r.open(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	uid, err := app.CurrentUser()
	if err != nil {
		return err
	}
	review, err := app.reader.MyReview(ctx, uid, movieID)
	if err != nil {
		return err
	}
	if review == nil {
		r.writePlainln("no review of movie %d", movieID)
		return nil
	}
	if err := app.mutations.DeleteReview(ctx, *review, nil); err != nil {
		return err
	}
	r.writePlainln("deleted review of movie %d", movieID)
	return nil
}
