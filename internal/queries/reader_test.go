package queries

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Clark-Hu/cinelist/internal/backend"
	"github.com/Clark-Hu/cinelist/internal/backend/backendtest"
	"github.com/Clark-Hu/cinelist/internal/domain"
	"github.com/Clark-Hu/cinelist/internal/querycache"
	"github.com/Clark-Hu/cinelist/internal/tmdb"
)

// fakeCatalogue implements the endpoints the tests touch; the embedded nil
// interface panics on anything else.
type fakeCatalogue struct {
	tmdb.Client
	popularCalls atomic.Int32
	searchCalls  atomic.Int32
	title        atomic.Value
}

func (f *fakeCatalogue) Popular(_ context.Context, page int) (domain.Page[domain.Movie], error) {
	f.popularCalls.Add(1)
	title, _ := f.title.Load().(string)
	return domain.Page[domain.Movie]{Page: page, Results: []domain.Movie{{ID: 603, Title: title}}}, nil
}

func (f *fakeCatalogue) Trending(_ context.Context, window string, page int) (domain.Page[domain.Movie], error) {
	return domain.Page[domain.Movie]{Page: page, Results: []domain.Movie{{ID: 1, Title: window}}}, nil
}

func (f *fakeCatalogue) SearchMovies(_ context.Context, query string, page int) (domain.Page[domain.Movie], error) {
	f.searchCalls.Add(1)
	return domain.Page[domain.Movie]{Page: page, Results: []domain.Movie{{ID: 2, Title: query}}}, nil
}

type staticSession string

func (s staticSession) SessionUserID(context.Context) (string, bool) { return string(s), s != "" }

func newTestReader(t *testing.T, clock clockwork.Clock) (*Reader, *fakeCatalogue, *backendtest.Memory) {
	t.Helper()
	mem := backendtest.NewMemory()
	cat := &fakeCatalogue{}
	cat.title.Store("The Matrix")
	session := staticSession("u1")
	cache := querycache.New(querycache.Options{Policy: DefaultPolicy(), Clock: clock})
	t.Cleanup(cache.Wait)
	return NewReader(cache, Sources{
		Catalogue: cat,
		Watchlist: backend.NewWatchlist(mem.Watchlist(), session, backend.Options{}),
		Reviews:   backend.NewReviews(mem.Reviews(), session, backend.Options{}),
		Profiles:  backend.NewProfiles(mem.Profiles(), session, backend.Options{}),
	}), cat, mem
}

func TestPopularIsServedFromCacheWhileFresh(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r, cat, _ := newTestReader(t, clock)
	ctx := context.Background()

	first, err := r.Popular(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Page)

	clock.Advance(4 * time.Minute)
	_, err = r.Popular(ctx, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, cat.popularCalls.Load())
}

func TestPopularRevalidatesAfterWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r, cat, _ := newTestReader(t, clock)
	ctx := context.Background()

	_, err := r.Popular(ctx, 1)
	require.NoError(t, err)

	cat.title.Store("The Matrix Reloaded")
	clock.Advance(5*time.Minute + time.Second)

	stale, err := r.Popular(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "The Matrix", stale.Results[0].Title)

	r.Cache().Wait()
	fresh, err := r.Popular(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "The Matrix Reloaded", fresh.Results[0].Title)
	assert.EqualValues(t, 2, cat.popularCalls.Load())
}

func TestTrendingRejectsUnknownWindow(t *testing.T) {
	r, _, _ := newTestReader(t, clockwork.NewFakeClock())

	_, err := r.Trending(context.Background(), "month", 1)
	require.ErrorIs(t, err, tmdb.ErrInvalidWindow)

	day, err := r.Trending(context.Background(), tmdb.WindowDay, 1)
	require.NoError(t, err)
	assert.Equal(t, "day", day.Results[0].Title)
}

func TestBlankSearchSkipsUpstream(t *testing.T) {
	r, cat, _ := newTestReader(t, clockwork.NewFakeClock())

	page, err := r.SearchMovies(context.Background(), "   ", 1)
	require.NoError(t, err)
	assert.Empty(t, page.Results)
	assert.NotNil(t, page.Results)
	assert.Zero(t, cat.searchCalls.Load())

	page, err = r.SearchMovies(context.Background(), "matrix", 1)
	require.NoError(t, err)
	assert.Equal(t, "matrix", page.Results[0].Title)
}

func TestUserReadsAreEmptyNotErrors(t *testing.T) {
	r, _, _ := newTestReader(t, clockwork.NewFakeClock())
	ctx := context.Background()

	items, err := r.Watchlist(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, items)

	in, err := r.InWatchlist(ctx, "u1", 603)
	require.NoError(t, err)
	assert.False(t, in)

	mine, err := r.MyReview(ctx, "u1", 603)
	require.NoError(t, err)
	assert.Nil(t, mine)

	profile, err := r.Profile(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, profile)
}

func TestUserReadsAreCached(t *testing.T) {
	r, _, mem := newTestReader(t, clockwork.NewFakeClock())
	ctx := context.Background()

	_, err := mem.Watchlist().Insert(ctx, "u1", 603)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		in, err := r.InWatchlist(ctx, "u1", 603)
		require.NoError(t, err)
		assert.True(t, in)
	}
	assert.Equal(t, 1, mem.Reads())
}
