package queries

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Clark-Hu/cinelist/internal/querycache"
)

func TestWatchlistPrefixCoversMembership(t *testing.T) {
	assert.True(t, WatchlistItemKey("u1", 603).HasPrefix(WatchlistKey("u1")))
	assert.False(t, WatchlistItemKey("u10", 603).HasPrefix(WatchlistKey("u1")))
	assert.False(t, MyReviewKey("u1", 603).HasPrefix(UserReviewsKey("u1")))
}

func TestDefaultPolicyWindows(t *testing.T) {
	p := DefaultPolicy()
	tests := map[string]time.Duration{
		ResourcePopular:       5 * time.Minute,
		ResourceTrendingDay:   time.Hour,
		ResourceTrendingWeek:  24 * time.Hour,
		ResourceNowPlaying:    6 * time.Hour,
		ResourceUpcoming:      12 * time.Hour,
		ResourceGenreMovies:   12 * time.Hour,
		ResourceSearchPeople:  time.Hour,
		ResourcePersonCredits: 24 * time.Hour,
		ResourceWatchlist:     time.Minute,
		ResourceMyReview:      time.Minute,
	}
	for resource, want := range tests {
		assert.Equal(t, want, p.StaleTime(resource), resource)
	}
}

func TestPurgeUserLeavesOtherUsers(t *testing.T) {
	cache := querycache.New(querycache.Options{Policy: DefaultPolicy(), Clock: clockwork.NewFakeClock()})
	ctx := context.Background()
	fetch := func(context.Context) (any, error) { return true, nil }

	for _, key := range []querycache.Key{
		WatchlistKey("u1"),
		WatchlistItemKey("u1", 603),
		MyReviewKey("u1", 603),
		ProfileKey("u1"),
		WatchlistKey("u2"),
		MovieReviewsKey(603),
	} {
		_, err := cache.Read(ctx, key, fetch)
		require.NoError(t, err)
	}

	assert.Equal(t, 4, PurgeUser(cache, "u1"))
	assert.Equal(t, 2, cache.Len())
	_, ok := cache.Peek(WatchlistKey("u2"))
	assert.True(t, ok)
	assert.Zero(t, PurgeUser(cache, ""))
}
