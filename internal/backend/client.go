package backend

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Clark-Hu/cinelist/internal/domain"
	"github.com/Clark-Hu/cinelist/internal/logging"
)

// WatchlistStore is the table-level transport for the watchlist resource.
type WatchlistStore interface {
	List(ctx context.Context, userID string) ([]domain.WatchlistItem, error)
	Find(ctx context.Context, userID string, movieID int) (domain.WatchlistItem, error)
	Insert(ctx context.Context, userID string, movieID int) (domain.WatchlistItem, error)
	Delete(ctx context.Context, userID string, movieID int) error
}

// ReviewStore is the table-level transport for the reviews resource.
type ReviewStore interface {
	ListByMovie(ctx context.Context, movieID int) ([]domain.Review, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Review, error)
	Find(ctx context.Context, userID string, movieID int) (domain.Review, error)
	Insert(ctx context.Context, userID string, movieID int, in domain.ReviewInput) (domain.Review, error)
	Update(ctx context.Context, id string, in domain.ReviewInput) (domain.Review, error)
	Delete(ctx context.Context, id string) error
}

// ProfileStore is the table-level transport for the profiles resource.
type ProfileStore interface {
	Get(ctx context.Context, userID string) (domain.Profile, error)
	Upsert(ctx context.Context, userID string, in domain.ProfileInput) (domain.Profile, error)
}

// SessionChecker reports the user of the active session, if any.
type SessionChecker interface {
	SessionUserID(ctx context.Context) (string, bool)
}

// Options are shared by every resource client.
type Options struct {
	// Timeout bounds each remote call. Zero leaves the transport default.
	Timeout time.Duration
	Logger  *log.Logger
}

type caller struct {
	session SessionChecker
	timeout time.Duration
	logger  *log.Logger
}

func newCaller(session SessionChecker, opts Options, component string) caller {
	return caller{
		session: session,
		timeout: opts.Timeout,
		logger:  logging.Component(opts.Logger, component),
	}
}

func (c caller) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return ctx, func() {}
}

func (c caller) requireSession(ctx context.Context) error {
	if c.session == nil {
		return ErrUnauthenticated
	}
	if _, ok := c.session.SessionUserID(ctx); !ok {
		return ErrUnauthenticated
	}
	return nil
}

// readPolicy classifies a read failure. Expected-empty conditions report
// empty=true with a nil error.
func readPolicy(err error, message string) (empty bool, out error) {
	classified := Classify(err, message)
	switch KindOf(classified) {
	case KindPermissionDenied, KindNotFound:
		return true, nil
	}
	return false, asFetchFailed(classified)
}

// writePolicy keeps the kinds a write may surface and folds the rest into
// FetchFailed.
func writePolicy(err error, message string, allowed ...Kind) error {
	classified := Classify(err, message)
	kind := KindOf(classified)
	if kind == KindUnauthenticated {
		return classified
	}
	for _, k := range allowed {
		if k == kind {
			return classified
		}
	}
	return asFetchFailed(classified)
}

func asFetchFailed(err error) error {
	var be *Error
	if !errors.As(err, &be) {
		return &Error{Kind: KindFetchFailed, Message: err.Error(), Err: err}
	}
	if be.Kind == KindFetchFailed {
		return be
	}
	return &Error{Kind: KindFetchFailed, Message: be.Message, Code: be.Code, Retryable: be.Retryable, Err: be.Err}
}

// Watchlist is the resource client for a user's watchlist.
type Watchlist struct {
	store WatchlistStore
	caller
}

// NewWatchlist wires a watchlist client over store.
func NewWatchlist(store WatchlistStore, session SessionChecker, opts Options) *Watchlist {
	return &Watchlist{store: store, caller: newCaller(session, opts, "backend.watchlist")}
}

// List returns the owner's entries, newest first. Permission failures yield an
// empty list.
func (w *Watchlist) List(ctx context.Context, ownerID string) ([]domain.WatchlistItem, error) {
	ctx, cancel := w.withTimeout(ctx)
	defer cancel()

	items, err := w.store.List(ctx, ownerID)
	if err != nil {
		empty, out := readPolicy(err, "list watchlist")
		if empty {
			w.logger.Debug("watchlist hidden", "owner", ownerID, "err", err)
			return []domain.WatchlistItem{}, nil
		}
		return nil, out
	}
	if items == nil {
		items = []domain.WatchlistItem{}
	}
	return items, nil
}

// Exists reports whether movieID is on the owner's watchlist.
func (w *Watchlist) Exists(ctx context.Context, ownerID string, movieID int) (bool, error) {
	ctx, cancel := w.withTimeout(ctx)
	defer cancel()

	if _, err := w.store.Find(ctx, ownerID, movieID); err != nil {
		empty, out := readPolicy(err, "check watchlist")
		if empty {
			return false, nil
		}
		return false, out
	}
	return true, nil
}

// Create adds movieID to the owner's watchlist. A duplicate yields
// ErrAlreadyExists, which callers treat as informational.
func (w *Watchlist) Create(ctx context.Context, ownerID string, movieID int) (domain.WatchlistItem, error) {
	if err := w.requireSession(ctx); err != nil {
		return domain.WatchlistItem{}, err
	}
	ctx, cancel := w.withTimeout(ctx)
	defer cancel()

	item, err := w.store.Insert(ctx, ownerID, movieID)
	if err != nil {
		out := writePolicy(err, "add to watchlist", KindAlreadyExists, KindPermissionDenied)
		w.logger.Debug("watchlist insert failed", "owner", ownerID, "movie", movieID, "err", out)
		return domain.WatchlistItem{}, out
	}
	return item, nil
}

// Delete removes movieID from the owner's watchlist.
func (w *Watchlist) Delete(ctx context.Context, ownerID string, movieID int) error {
	ctx, cancel := w.withTimeout(ctx)
	defer cancel()

	if err := w.store.Delete(ctx, ownerID, movieID); err != nil {
		return writePolicy(err, "remove from watchlist", KindPermissionDenied, KindNotFound)
	}
	return nil
}

// Reviews is the resource client for movie reviews.
type Reviews struct {
	store ReviewStore
	caller
}

// NewReviews wires a reviews client over store.
func NewReviews(store ReviewStore, session SessionChecker, opts Options) *Reviews {
	return &Reviews{store: store, caller: newCaller(session, opts, "backend.reviews")}
}

// ListForMovie returns every review of movieID, newest first.
func (r *Reviews) ListForMovie(ctx context.Context, movieID int) ([]domain.Review, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.list(r.store.ListByMovie(ctx, movieID))
}

// List returns the reviews written by ownerID.
func (r *Reviews) List(ctx context.Context, ownerID string) ([]domain.Review, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.list(r.store.ListByUser(ctx, ownerID))
}

func (r *Reviews) list(reviews []domain.Review, err error) ([]domain.Review, error) {
	if err != nil {
		empty, out := readPolicy(err, "list reviews")
		if empty {
			return []domain.Review{}, nil
		}
		return nil, out
	}
	if reviews == nil {
		reviews = []domain.Review{}
	}
	return reviews, nil
}

// Find returns the owner's review of movieID, or nil when there is none.
func (r *Reviews) Find(ctx context.Context, ownerID string, movieID int) (*domain.Review, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	review, err := r.store.Find(ctx, ownerID, movieID)
	if err != nil {
		empty, out := readPolicy(err, "find review")
		if empty {
			return nil, nil
		}
		return nil, out
	}
	return &review, nil
}

// Exists reports whether the owner has reviewed movieID.
func (r *Reviews) Exists(ctx context.Context, ownerID string, movieID int) (bool, error) {
	review, err := r.Find(ctx, ownerID, movieID)
	return review != nil, err
}

// Create stores a new review. The active session is checked before writing.
func (r *Reviews) Create(ctx context.Context, ownerID string, movieID int, in domain.ReviewInput) (domain.Review, error) {
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return domain.Review{}, err
	}
	if err := r.requireSession(ctx); err != nil {
		return domain.Review{}, err
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	review, err := r.store.Insert(ctx, ownerID, movieID, in)
	if err != nil {
		out := writePolicy(err, "create review", KindAlreadyExists, KindPermissionDenied)
		r.logger.Debug("review insert failed", "owner", ownerID, "movie", movieID, "err", out)
		return domain.Review{}, out
	}
	return review, nil
}

// Update edits rating and comment of an existing review.
func (r *Reviews) Update(ctx context.Context, id string, in domain.ReviewInput) (domain.Review, error) {
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return domain.Review{}, err
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	review, err := r.store.Update(ctx, id, in)
	if err != nil {
		return domain.Review{}, writePolicy(err, "update review", KindPermissionDenied, KindNotFound)
	}
	return review, nil
}

// Delete removes a review.
func (r *Reviews) Delete(ctx context.Context, id string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := r.store.Delete(ctx, id); err != nil {
		return writePolicy(err, "delete review", KindPermissionDenied, KindNotFound)
	}
	return nil
}

// Profiles is the resource client for user profiles.
type Profiles struct {
	store ProfileStore
	caller
}

// NewProfiles wires a profiles client over store.
func NewProfiles(store ProfileStore, session SessionChecker, opts Options) *Profiles {
	return &Profiles{store: store, caller: newCaller(session, opts, "backend.profiles")}
}

// Get returns the profile of userID, or nil when none was created yet.
func (p *Profiles) Get(ctx context.Context, userID string) (*domain.Profile, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	profile, err := p.store.Get(ctx, userID)
	if err != nil {
		empty, out := readPolicy(err, "get profile")
		if empty {
			return nil, nil
		}
		return nil, out
	}
	return &profile, nil
}

// Update creates or replaces the caller's profile.
func (p *Profiles) Update(ctx context.Context, userID string, in domain.ProfileInput) (domain.Profile, error) {
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return domain.Profile{}, err
	}
	if err := p.requireSession(ctx); err != nil {
		return domain.Profile{}, err
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	profile, err := p.store.Upsert(ctx, userID, in)
	if err != nil {
		return domain.Profile{}, writePolicy(err, "update profile", KindAlreadyExists, KindPermissionDenied)
	}
	return profile, nil
}
