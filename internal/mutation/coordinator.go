// Package mutation runs every write: auth precondition, optimistic local
// update, remote call, then invalidation of the cached reads it affects.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jonboulle/clockwork"

	"github.com/Clark-Hu/cinelist/internal/auth"
	"github.com/Clark-Hu/cinelist/internal/backend"
	"github.com/Clark-Hu/cinelist/internal/domain"
	"github.com/Clark-Hu/cinelist/internal/logging"
	"github.com/Clark-Hu/cinelist/internal/queries"
	"github.com/Clark-Hu/cinelist/internal/querycache"
)

var (
	// ErrSessionLoading is returned while the persisted session is still being
	// recovered. Callers wait instead of redirecting to login.
	ErrSessionLoading = errors.New("mutation: session is still loading")
	// ErrMutationInFlight rejects a second submission for the same target.
	ErrMutationInFlight = errors.New("mutation: already in flight")
)

// AuthState is the part of the auth holder the coordinator reads.
type AuthState interface {
	Snapshot() auth.Snapshot
}

// Options configure a Coordinator.
type Options struct {
	Auth      AuthState
	Cache     *querycache.Cache
	Watchlist *backend.Watchlist
	Reviews   *backend.Reviews
	Profiles  *backend.Profiles
	Clock     clockwork.Clock
	Logger    *log.Logger
	// RefreshWait bounds how long a mutation waits for the refetches it
	// triggers. The refetches themselves keep running. Defaults to 5s.
	RefreshWait time.Duration
}

// Coordinator serializes writes per target and keeps the cache consistent
// with them.
type Coordinator struct {
	auth      AuthState
	cache     *querycache.Cache
	watchlist *backend.Watchlist
	reviews   *backend.Reviews
	profiles  *backend.Profiles
	clock     clockwork.Clock
	logger    *log.Logger
	wait      time.Duration

	mu       sync.Mutex
	inflight map[string]struct{}
}

func New(opts Options) *Coordinator {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	wait := opts.RefreshWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &Coordinator{
		auth:      opts.Auth,
		cache:     opts.Cache,
		watchlist: opts.Watchlist,
		reviews:   opts.Reviews,
		profiles:  opts.Profiles,
		clock:     clock,
		logger:    logging.Component(opts.Logger, "mutation"),
		wait:      wait,
		inflight:  make(map[string]struct{}),
	}
}

// InFlight reports whether a mutation of resource for movieID is running.
func (c *Coordinator) InFlight(resource, userID string, movieID int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[targetKey(resource, userID, movieID)]
	return ok
}

func targetKey(resource, userID string, movieID int) string {
	return fmt.Sprintf("%s|%s|%d", resource, userID, movieID)
}

// currentUser checks the auth precondition.
func (c *Coordinator) currentUser() (string, error) {
	if c.auth == nil {
		return "", backend.ErrUnauthenticated
	}
	snap := c.auth.Snapshot()
	if snap.IsLoading() {
		return "", ErrSessionLoading
	}
	id, ok := snap.Authenticated()
	if !ok {
		return "", backend.ErrUnauthenticated
	}
	return id.ID, nil
}

// acquire claims the target or fails with ErrMutationInFlight.
func (c *Coordinator) acquire(resource, userID string, movieID int) (release func(), err error) {
	key := targetKey(resource, userID, movieID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[key]; busy {
		return nil, ErrMutationInFlight
	}
	c.inflight[key] = struct{}{}
	return func() {
		c.mu.Lock()
		delete(c.inflight, key)
		c.mu.Unlock()
	}, nil
}

// refresh invalidates every dependent key and waits for the refetches of the
// ones that were read before, up to the refresh wait or until ctx is done.
func (c *Coordinator) refresh(ctx context.Context, keys ...querycache.Key) {
	if c.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.wait)
	defer cancel()
	for _, k := range keys {
		if err := c.cache.Refresh(ctx, k); err != nil {
			c.logger.Warn("refresh after mutation", "key", k, "err", err)
		}
	}
}

// reviewKeys lists the reads a review write affects. Without a movie every
// movie's review list is covered.
func reviewKeys(userID string, movieID int) []querycache.Key {
	if movieID == 0 {
		return []querycache.Key{
			querycache.NewKey(queries.ResourceMovieReviews),
			queries.UserReviewsKey(userID),
			querycache.NewKey(queries.ResourceMyReview, userID),
		}
	}
	return []querycache.Key{
		queries.MovieReviewsKey(movieID),
		queries.UserReviewsKey(userID),
		queries.MyReviewKey(userID, movieID),
	}
}

// AddToWatchlist saves movieID for the signed-in user. ErrAlreadyExists is
// returned but keeps the optimistic value since it matches the backend.
func (c *Coordinator) AddToWatchlist(ctx context.Context, movieID int, state *Optimistic[bool]) (domain.WatchlistItem, error) {
	uid, err := c.currentUser()
	if err != nil {
		return domain.WatchlistItem{}, err
	}
	release, err := c.acquire(queries.ResourceWatchlist, uid, movieID)
	if err != nil {
		return domain.WatchlistItem{}, err
	}
	defer release()

	prev := state.begin(true)
	item, err := c.watchlist.Create(ctx, uid, movieID)
	c.refresh(ctx, queries.WatchlistKey(uid))

	keep := err == nil || errors.Is(err, backend.ErrAlreadyExists)
	state.settle(true, !keep, prev)
	if err != nil {
		c.logger.Debug("add to watchlist failed", "user", uid, "movie", movieID, "err", err)
	}
	return item, err
}

// RemoveFromWatchlist deletes movieID from the signed-in user's watchlist.
func (c *Coordinator) RemoveFromWatchlist(ctx context.Context, movieID int, state *Optimistic[bool]) error {
	uid, err := c.currentUser()
	if err != nil {
		return err
	}
	release, err := c.acquire(queries.ResourceWatchlist, uid, movieID)
	if err != nil {
		return err
	}
	defer release()

	prev := state.begin(false)
	err = c.watchlist.Delete(ctx, uid, movieID)
	c.refresh(ctx, queries.WatchlistKey(uid))

	state.settle(false, err != nil, prev)
	if err != nil {
		c.logger.Debug("remove from watchlist failed", "user", uid, "movie", movieID, "err", err)
	}
	return err
}

// ToggleWatchlist adds or removes movieID depending on the displayed state.
// Without state the backend is asked. It returns the resulting membership.
func (c *Coordinator) ToggleWatchlist(ctx context.Context, movieID int, state *Optimistic[bool]) (bool, error) {
	uid, err := c.currentUser()
	if err != nil {
		return false, err
	}
	var saved bool
	if state != nil {
		saved = state.Value()
	} else if saved, err = c.watchlist.Exists(ctx, uid, movieID); err != nil {
		return false, err
	}

	if saved {
		if err := c.RemoveFromWatchlist(ctx, movieID, state); err != nil {
			return true, err
		}
		return false, nil
	}
	_, err = c.AddToWatchlist(ctx, movieID, state)
	if err != nil && !errors.Is(err, backend.ErrAlreadyExists) {
		return false, err
	}
	return true, err
}

func (c *Coordinator) draftReview(uid string, movieID int, in domain.ReviewInput) *domain.Review {
	now := c.clock.Now().UTC()
	return &domain.Review{UserID: uid, MovieID: movieID, Rating: in.Rating, Comment: in.Comment, CreatedAt: now, UpdatedAt: now}
}

// CreateReview writes the user's first review of movieID.
func (c *Coordinator) CreateReview(ctx context.Context, movieID int, in domain.ReviewInput, state *Optimistic[*domain.Review]) (domain.Review, error) {
	uid, err := c.currentUser()
	if err != nil {
		return domain.Review{}, err
	}
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return domain.Review{}, err
	}
	release, err := c.acquire(queries.ResourceMyReview, uid, movieID)
	if err != nil {
		return domain.Review{}, err
	}
	defer release()
	return c.createReview(ctx, uid, movieID, in, state)
}

func (c *Coordinator) createReview(ctx context.Context, uid string, movieID int, in domain.ReviewInput, state *Optimistic[*domain.Review]) (domain.Review, error) {
	prev := state.begin(c.draftReview(uid, movieID, in))
	review, err := c.reviews.Create(ctx, uid, movieID, in)
	c.refresh(ctx, reviewKeys(uid, movieID)...)

	state.settle(&review, err != nil, prev)
	if err != nil {
		c.logger.Debug("create review failed", "user", uid, "movie", movieID, "err", err)
	}
	return review, err
}

// UpdateReview edits an existing review of the signed-in user. existing may
// carry only the ID, in which case the backend decides ownership.
func (c *Coordinator) UpdateReview(ctx context.Context, existing domain.Review, in domain.ReviewInput, state *Optimistic[*domain.Review]) (domain.Review, error) {
	uid, err := c.currentUser()
	if err != nil {
		return domain.Review{}, err
	}
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return domain.Review{}, err
	}
	release, err := c.acquire(queries.ResourceMyReview, uid, existing.MovieID)
	if err != nil {
		return domain.Review{}, err
	}
	defer release()
	return c.updateReview(ctx, uid, existing, in, state)
}

func (c *Coordinator) updateReview(ctx context.Context, uid string, existing domain.Review, in domain.ReviewInput, state *Optimistic[*domain.Review]) (domain.Review, error) {
	draft := existing
	draft.Rating, draft.Comment, draft.UpdatedAt = in.Rating, in.Comment, c.clock.Now().UTC()
	prev := state.begin(&draft)

	review, err := c.reviews.Update(ctx, existing.ID, in)
	movieID := existing.MovieID
	if movieID == 0 {
		movieID = review.MovieID
	}
	c.refresh(ctx, reviewKeys(uid, movieID)...)

	state.settle(&review, err != nil, prev)
	if err != nil {
		c.logger.Debug("update review failed", "user", uid, "review", existing.ID, "err", err)
	}
	return review, err
}

// SubmitReview creates or updates the user's review of movieID so that a user
// never holds two reviews of one movie. The loaded review in state decides;
// without one the backend is asked.
func (c *Coordinator) SubmitReview(ctx context.Context, movieID int, in domain.ReviewInput, state *Optimistic[*domain.Review]) (domain.Review, error) {
	uid, err := c.currentUser()
	if err != nil {
		return domain.Review{}, err
	}
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return domain.Review{}, err
	}
	release, err := c.acquire(queries.ResourceMyReview, uid, movieID)
	if err != nil {
		return domain.Review{}, err
	}
	defer release()

	var existing *domain.Review
	if state != nil {
		existing = state.Value()
	}
	if existing == nil || existing.ID == "" {
		if existing, err = c.reviews.Find(ctx, uid, movieID); err != nil {
			return domain.Review{}, err
		}
	}
	if existing != nil {
		return c.updateReview(ctx, uid, *existing, in, state)
	}
	return c.createReview(ctx, uid, movieID, in, state)
}

// DeleteReview removes a review of the signed-in user. As with UpdateReview,
// a review owned by someone else fails with backend.ErrPermissionDenied.
func (c *Coordinator) DeleteReview(ctx context.Context, review domain.Review, state *Optimistic[*domain.Review]) error {
	uid, err := c.currentUser()
	if err != nil {
		return err
	}
	release, err := c.acquire(queries.ResourceMyReview, uid, review.MovieID)
	if err != nil {
		return err
	}
	defer release()

	prev := state.begin(nil)
	err = c.reviews.Delete(ctx, review.ID)
	c.refresh(ctx, reviewKeys(uid, review.MovieID)...)

	state.settle(nil, err != nil, prev)
	if err != nil {
		c.logger.Debug("delete review failed", "user", uid, "review", review.ID, "err", err)
	}
	return err
}

// UpdateProfile saves the signed-in user's profile.
func (c *Coordinator) UpdateProfile(ctx context.Context, in domain.ProfileInput, state *Optimistic[*domain.Profile]) (domain.Profile, error) {
	uid, err := c.currentUser()
	if err != nil {
		return domain.Profile{}, err
	}
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return domain.Profile{}, err
	}
	release, err := c.acquire(queries.ResourceProfile, uid, 0)
	if err != nil {
		return domain.Profile{}, err
	}
	defer release()

	draft := domain.Profile{ID: uid, Username: in.Username, FullName: in.FullName, UpdatedAt: c.clock.Now().UTC()}
	if state != nil {
		if cur := state.Value(); cur != nil {
			draft.AvatarURL = cur.AvatarURL
		}
	}
	prev := state.begin(&draft)
	profile, err := c.profiles.Update(ctx, uid, in)
	c.refresh(ctx, queries.ProfileKey(uid))

	state.settle(&profile, err != nil, prev)
	if err != nil {
		c.logger.Debug("update profile failed", "user", uid, "err", err)
	}
	return profile, err
}
