package mutation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Clark-Hu/cinelist/internal/auth"
	"github.com/Clark-Hu/cinelist/internal/backend"
	"github.com/Clark-Hu/cinelist/internal/backend/backendtest"
	"github.com/Clark-Hu/cinelist/internal/domain"
	"github.com/Clark-Hu/cinelist/internal/queries"
	"github.com/Clark-Hu/cinelist/internal/querycache"
)

type fakeAuth struct {
	mu   sync.Mutex
	snap auth.Snapshot
}

func signedIn(id string) *fakeAuth {
	return &fakeAuth{snap: auth.Snapshot{State: auth.StateAuthenticated, Identity: domain.Identity{ID: id}}}
}

func (f *fakeAuth) Snapshot() auth.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeAuth) set(s auth.Snapshot) {
	f.mu.Lock()
	f.snap = s
	f.mu.Unlock()
}

// SessionUserID lets the same fake gate the backend clients.
func (f *fakeAuth) SessionUserID(context.Context) (string, bool) {
	id, ok := f.Snapshot().Authenticated()
	return id.ID, ok
}

type fixture struct {
	auth   *fakeAuth
	mem    *backendtest.Memory
	reader *queries.Reader
	coord  *Coordinator
	opts   Options
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	a := signedIn("u1")
	mem := backendtest.NewMemory()
	clock := clockwork.NewFakeClock()
	cache := querycache.New(querycache.Options{Policy: queries.DefaultPolicy(), Clock: clock})
	t.Cleanup(cache.Wait)

	watchlist := backend.NewWatchlist(mem.Watchlist(), a, backend.Options{})
	reviews := backend.NewReviews(mem.Reviews(), a, backend.Options{})
	profiles := backend.NewProfiles(mem.Profiles(), a, backend.Options{})
	opts := Options{
		Auth: a, Cache: cache, Clock: clock,
		Watchlist: watchlist, Reviews: reviews, Profiles: profiles,
	}
	return &fixture{
		auth: a,
		mem:  mem,
		reader: queries.NewReader(cache, queries.Sources{
			Watchlist: watchlist, Reviews: reviews, Profiles: profiles,
		}),
		coord: New(opts),
		opts:  opts,
	}
}

func TestMutationsRequireSignedInUser(t *testing.T) {
	ctx := context.Background()
	existing := domain.Review{ID: "r1", UserID: "u1", MovieID: 603, Rating: 3}

	// Inputs are deliberately invalid: the auth gate must answer first.
	ops := map[string]func(c *Coordinator) error{
		"add": func(c *Coordinator) error {
			_, err := c.AddToWatchlist(ctx, 603, NewOptimistic(false))
			return err
		},
		"remove": func(c *Coordinator) error {
			return c.RemoveFromWatchlist(ctx, 603, NewOptimistic(true))
		},
		"toggle": func(c *Coordinator) error {
			_, err := c.ToggleWatchlist(ctx, 603, nil)
			return err
		},
		"create review": func(c *Coordinator) error {
			_, err := c.CreateReview(ctx, 603, domain.ReviewInput{Rating: 9}, nil)
			return err
		},
		"update review": func(c *Coordinator) error {
			_, err := c.UpdateReview(ctx, existing, domain.ReviewInput{Rating: 0}, nil)
			return err
		},
		"submit review": func(c *Coordinator) error {
			_, err := c.SubmitReview(ctx, 603, domain.ReviewInput{}, nil)
			return err
		},
		"delete review": func(c *Coordinator) error {
			return c.DeleteReview(ctx, existing, nil)
		},
		"update profile": func(c *Coordinator) error {
			_, err := c.UpdateProfile(ctx, domain.ProfileInput{Username: "ab"}, nil)
			return err
		},
	}

	states := []struct {
		state auth.State
		want  error
	}{
		{auth.StateUnauthenticated, backend.ErrUnauthenticated},
		{auth.StateLoading, ErrSessionLoading},
	}
	for _, st := range states {
		for name, op := range ops {
			t.Run(st.state.String()+"/"+name, func(t *testing.T) {
				f := newFixture(t)
				f.auth.set(auth.Snapshot{State: st.state})

				require.ErrorIs(t, op(f.coord), st.want)
				assert.Zero(t, f.mem.Writes())
				assert.Zero(t, f.mem.Reads())
			})
		}
	}
}

func TestGatedMutationLeavesOptimisticStateAlone(t *testing.T) {
	f := newFixture(t)
	f.auth.set(auth.Snapshot{State: auth.StateUnauthenticated})
	state := NewOptimistic(false)

	_, err := f.coord.AddToWatchlist(context.Background(), 603, state)
	require.ErrorIs(t, err, backend.ErrUnauthenticated)
	assert.False(t, state.Value())
	assert.False(t, state.Pending())
}

func TestAddIsOptimisticAndRefreshesReads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in, err := f.reader.InWatchlist(ctx, "u1", 603)
	require.NoError(t, err)
	require.False(t, in)
	list, err := f.reader.Watchlist(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, list)

	state := NewOptimistic(in)
	release := f.mem.Hold()
	done := make(chan error, 1)
	go func() {
		_, err := f.coord.AddToWatchlist(ctx, 603, state)
		done <- err
	}()

	require.Eventually(t, state.Pending, time.Second, time.Millisecond)
	assert.True(t, state.Value())
	assert.True(t, f.coord.InFlight(queries.ResourceWatchlist, "u1", 603))

	_, err = f.coord.AddToWatchlist(ctx, 603, state)
	require.ErrorIs(t, err, ErrMutationInFlight)

	release()
	require.NoError(t, <-done)
	assert.True(t, state.Value())
	assert.False(t, state.Pending())
	assert.False(t, f.coord.InFlight(queries.ResourceWatchlist, "u1", 603))

	in, err = f.reader.InWatchlist(ctx, "u1", 603)
	require.NoError(t, err)
	assert.True(t, in)
	list, err = f.reader.Watchlist(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 603, list[0].MovieID)
}

func TestFailedAddRollsBack(t *testing.T) {
	f := newFixture(t)
	state := NewOptimistic(false)
	f.mem.Fail(errors.New("connection reset by peer"))

	_, err := f.coord.AddToWatchlist(context.Background(), 603, state)
	require.ErrorIs(t, err, backend.ErrFetchFailed)
	assert.False(t, state.Value())
	assert.False(t, state.Pending())
}

func TestDuplicateAddKeepsOptimisticValue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.mem.Watchlist().Insert(ctx, "u1", 603)
	require.NoError(t, err)

	state := NewOptimistic(false)
	_, err = f.coord.AddToWatchlist(ctx, 603, state)
	require.ErrorIs(t, err, backend.ErrAlreadyExists)
	assert.True(t, state.Value())
}

func TestToggleWatchlist(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	state := NewOptimistic(false)

	saved, err := f.coord.ToggleWatchlist(ctx, 603, state)
	require.NoError(t, err)
	assert.True(t, saved)
	assert.True(t, state.Value())

	saved, err = f.coord.ToggleWatchlist(ctx, 603, state)
	require.NoError(t, err)
	assert.False(t, saved)
	assert.False(t, state.Value())

	saved, err = f.coord.ToggleWatchlist(ctx, 603, nil)
	require.NoError(t, err)
	assert.True(t, saved)
	items, err := f.mem.Watchlist().List(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestSubmitReviewKeepsOneReviewPerMovie(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.coord.SubmitReview(ctx, 603, domain.ReviewInput{Rating: 3, Comment: " fine "}, nil)
	require.NoError(t, err)
	assert.Equal(t, "fine", first.Comment)

	second, err := f.coord.SubmitReview(ctx, 603, domain.ReviewInput{Rating: 5, Comment: "better on rewatch"}, nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.Edited())

	state := NewOptimistic[*domain.Review](&second)
	third, err := f.coord.SubmitReview(ctx, 603, domain.ReviewInput{Rating: 4}, state)
	require.NoError(t, err)
	assert.Equal(t, first.ID, third.ID)
	assert.Equal(t, 4, state.Value().Rating)

	reviews, err := f.reader.MovieReviews(ctx, 603)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, 4, reviews[0].Rating)
}

func TestSubmitReviewValidatesFirst(t *testing.T) {
	f := newFixture(t)
	state := NewOptimistic[*domain.Review](nil)

	_, err := f.coord.SubmitReview(context.Background(), 603, domain.ReviewInput{}, state)
	require.ErrorIs(t, err, domain.ErrRatingRequired)
	assert.Nil(t, state.Value())
	assert.Zero(t, f.mem.Writes())
}

func TestCreateReviewRefreshesMyReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mine, err := f.reader.MyReview(ctx, "u1", 603)
	require.NoError(t, err)
	require.Nil(t, mine)

	state := NewOptimistic(mine)
	created, err := f.coord.CreateReview(ctx, 603, domain.ReviewInput{Rating: 5}, state)
	require.NoError(t, err)
	assert.Equal(t, created.ID, state.Value().ID)

	mine, err = f.reader.MyReview(ctx, "u1", 603)
	require.NoError(t, err)
	require.NotNil(t, mine)
	assert.Equal(t, created.ID, mine.ID)

	_, err = f.coord.CreateReview(ctx, 603, domain.ReviewInput{Rating: 1}, nil)
	require.ErrorIs(t, err, backend.ErrAlreadyExists)
}

func TestDeleteReviewRollsBackOnFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	review, err := f.coord.CreateReview(ctx, 603, domain.ReviewInput{Rating: 2}, nil)
	require.NoError(t, err)

	state := NewOptimistic(&review)
	f.mem.Fail(errors.New("connection refused"))
	err = f.coord.DeleteReview(ctx, review, state)
	require.ErrorIs(t, err, backend.ErrFetchFailed)
	require.NotNil(t, state.Value())
	assert.Equal(t, review.ID, state.Value().ID)

	f.mem.Fail(nil)
	require.NoError(t, f.coord.DeleteReview(ctx, review, state))
	assert.Nil(t, state.Value())

	mine, err := f.reader.MyReview(ctx, "u1", 603)
	require.NoError(t, err)
	assert.Nil(t, mine)
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	state := NewOptimistic[*domain.Profile](nil)
	_, err := f.coord.UpdateProfile(ctx, domain.ProfileInput{Username: "ab"}, state)
	require.ErrorIs(t, err, domain.ErrUsernameInvalid)

	profile, err := f.coord.UpdateProfile(ctx, domain.ProfileInput{Username: " neo ", FullName: "Thomas Anderson"}, state)
	require.NoError(t, err)
	assert.Equal(t, "neo", profile.Username)
	assert.Equal(t, "neo", state.Value().Username)

	got, err := f.reader.Profile(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Thomas Anderson", got.FullName)
}

func TestForeignReviewWriteIsPermissionDenied(t *testing.T) {
	f := newFixture(t)
	f.mem.ActAs(f.auth.SessionUserID)
	ctx := context.Background()

	theirs, err := f.mem.Reviews().Insert(ctx, "u2", 603, domain.ReviewInput{Rating: 5})
	require.NoError(t, err)

	_, err = f.coord.UpdateReview(ctx, domain.Review{ID: theirs.ID}, domain.ReviewInput{Rating: 1}, nil)
	require.ErrorIs(t, err, backend.ErrPermissionDenied)
	err = f.coord.DeleteReview(ctx, domain.Review{ID: theirs.ID}, nil)
	require.ErrorIs(t, err, backend.ErrPermissionDenied)
	err = f.coord.DeleteReview(ctx, domain.Review{ID: "missing"}, nil)
	require.ErrorIs(t, err, backend.ErrNotFound)

	reviews, err := f.reader.MovieReviews(ctx, 603)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, 5, reviews[0].Rating)
}

func TestUpdateByIDRefreshesMovieReviews(t *testing.T) {
	f := newFixture(t)
	f.mem.ActAs(f.auth.SessionUserID)
	ctx := context.Background()

	mine, err := f.coord.CreateReview(ctx, 603, domain.ReviewInput{Rating: 2}, nil)
	require.NoError(t, err)
	reviews, err := f.reader.MovieReviews(ctx, 603)
	require.NoError(t, err)
	require.Len(t, reviews, 1)

	_, err = f.coord.UpdateReview(ctx, domain.Review{ID: mine.ID}, domain.ReviewInput{Rating: 4}, nil)
	require.NoError(t, err)

	reviews, err = f.reader.MovieReviews(ctx, 603)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, 4, reviews[0].Rating)
}

func TestRefreshWaitIsBounded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cache := f.reader.Cache()

	hang := make(chan struct{})
	t.Cleanup(func() { close(hang) })
	var calls atomic.Int32
	_, err := cache.Read(ctx, queries.WatchlistKey("u1").With("slow"), func(context.Context) (any, error) {
		if calls.Add(1) > 1 {
			<-hang
		}
		return "ok", nil
	})
	require.NoError(t, err)

	opts := f.opts
	opts.RefreshWait = 20 * time.Millisecond
	coord := New(opts)

	done := make(chan error, 1)
	go func() {
		_, err := coord.AddToWatchlist(ctx, 603, nil)
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("mutation blocked on a hung refetch")
	}
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, time.Millisecond)
}
