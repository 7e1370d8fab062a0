// Package queries is the read side: every cached read of the catalogue and
// of the user's data, with the keys and staleness windows they use.
package queries

import (
	"strings"
	"time"

	"github.com/Clark-Hu/cinelist/internal/querycache"
)

// Resource tags used in cache keys.
const (
	ResourceWatchlist    = "watchlist"
	ResourceMovieReviews = "reviews.movie"
	ResourceUserReviews  = "reviews.user"
	ResourceMyReview     = "reviews.mine"
	ResourceProfile      = "profile"

	ResourceTrendingDay     = "movies.trending-day"
	ResourceTrendingWeek    = "movies.trending-week"
	ResourcePopular         = "movies.popular"
	ResourceTopRated        = "movies.top-rated"
	ResourceUpcoming        = "movies.upcoming"
	ResourceNowPlaying      = "movies.now-playing"
	ResourceMovie           = "movies.detail"
	ResourceCredits         = "movies.credits"
	ResourceSimilar         = "movies.similar"
	ResourceRecommendations = "movies.recommendations"
	ResourceGenres          = "genres"
	ResourceGenreMovies     = "genres.movies"
	ResourceSearchMovies    = "search.movies"
	ResourcePopularPeople   = "people.popular"
	ResourcePerson          = "people.detail"
	ResourcePersonCredits   = "people.credits"
	ResourceSearchPeople    = "search.people"
)

// WatchlistKey covers the user's whole watchlist and, as a prefix, every
// per-movie membership key.
func WatchlistKey(userID string) querycache.Key {
	return querycache.NewKey(ResourceWatchlist, userID)
}

// WatchlistItemKey is the membership check of one movie.
func WatchlistItemKey(userID string, movieID int) querycache.Key {
	return WatchlistKey(userID).With(movieID)
}

func MovieReviewsKey(movieID int) querycache.Key {
	return querycache.NewKey(ResourceMovieReviews, movieID)
}

func UserReviewsKey(userID string) querycache.Key {
	return querycache.NewKey(ResourceUserReviews, userID)
}

func MyReviewKey(userID string, movieID int) querycache.Key {
	return querycache.NewKey(ResourceMyReview, userID, movieID)
}

func ProfileKey(userID string) querycache.Key {
	return querycache.NewKey(ResourceProfile, userID)
}

// UserScoped lists the prefixes holding data of one user.
func UserScoped(userID string) []querycache.Key {
	return []querycache.Key{
		WatchlistKey(userID),
		UserReviewsKey(userID),
		querycache.NewKey(ResourceMyReview, userID),
		ProfileKey(userID),
	}
}

// PurgeUser drops every cached entry of userID. Used when the signed-in
// identity changes.
func PurgeUser(cache *querycache.Cache, userID string) int {
	if userID == "" {
		return 0
	}
	n := 0
	for _, prefix := range UserScoped(userID) {
		n += cache.Purge(prefix)
	}
	return n
}

// DefaultPolicy returns the staleness windows of every resource.
func DefaultPolicy() querycache.Policy {
	return querycache.Policy{
		Default: time.Minute,
		GCTime:  5 * time.Minute,
		Stale: map[string]time.Duration{
			ResourceWatchlist:    time.Minute,
			ResourceMovieReviews: time.Minute,
			ResourceUserReviews:  time.Minute,
			ResourceMyReview:     time.Minute,
			ResourceProfile:      time.Minute,

			ResourcePopular:         5 * time.Minute,
			ResourceTrendingDay:     time.Hour,
			ResourceTrendingWeek:    24 * time.Hour,
			ResourceNowPlaying:      6 * time.Hour,
			ResourceUpcoming:        12 * time.Hour,
			ResourceTopRated:        24 * time.Hour,
			ResourceMovie:           24 * time.Hour,
			ResourceCredits:         24 * time.Hour,
			ResourceSimilar:         24 * time.Hour,
			ResourceRecommendations: 24 * time.Hour,
			ResourceGenres:          24 * time.Hour,
			ResourceGenreMovies:     12 * time.Hour,
			ResourceSearchMovies:    time.Hour,
			ResourceSearchPeople:    time.Hour,
			ResourcePopularPeople:   12 * time.Hour,
			ResourcePerson:          24 * time.Hour,
			ResourcePersonCredits:   24 * time.Hour,
		},
	}
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
