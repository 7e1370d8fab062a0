package queries

import (
	"context"

	"github.com/Clark-Hu/cinelist/internal/backend"
	"github.com/Clark-Hu/cinelist/internal/domain"
	"github.com/Clark-Hu/cinelist/internal/querycache"
	"github.com/Clark-Hu/cinelist/internal/tmdb"
)

// Reader serves every read through the cache. Catalogue reads go to TMDB,
// user reads go to the backend clients.
type Reader struct {
	cache     *querycache.Cache
	catalogue tmdb.Client
	watchlist *backend.Watchlist
	reviews   *backend.Reviews
	profiles  *backend.Profiles
}

// Sources bundles the upstreams a Reader reads from.
type Sources struct {
	Catalogue tmdb.Client
	Watchlist *backend.Watchlist
	Reviews   *backend.Reviews
	Profiles  *backend.Profiles
}

func NewReader(cache *querycache.Cache, src Sources) *Reader {
	return &Reader{
		cache:     cache,
		catalogue: src.Catalogue,
		watchlist: src.Watchlist,
		reviews:   src.Reviews,
		profiles:  src.Profiles,
	}
}

// Cache exposes the underlying cache to the mutation side.
func (r *Reader) Cache() *querycache.Cache { return r.cache }

func normalizePage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}

type moviePageFunc func(ctx context.Context, page int) (domain.Page[domain.Movie], error)

func (r *Reader) moviePage(ctx context.Context, resource string, page int, fn moviePageFunc) (domain.Page[domain.Movie], error) {
	page = normalizePage(page)
	return querycache.Get(ctx, r.cache, querycache.NewKey(resource, page), func(ctx context.Context) (domain.Page[domain.Movie], error) {
		return fn(ctx, page)
	})
}

// Trending lists trending movies for the day or week window.
func (r *Reader) Trending(ctx context.Context, window string, page int) (domain.Page[domain.Movie], error) {
	var resource string
	switch window {
	case tmdb.WindowDay:
		resource = ResourceTrendingDay
	case tmdb.WindowWeek:
		resource = ResourceTrendingWeek
	default:
		return domain.Page[domain.Movie]{}, tmdb.ErrInvalidWindow
	}
	return r.moviePage(ctx, resource, page, func(ctx context.Context, page int) (domain.Page[domain.Movie], error) {
		return r.catalogue.Trending(ctx, window, page)
	})
}

func (r *Reader) Popular(ctx context.Context, page int) (domain.Page[domain.Movie], error) {
	return r.moviePage(ctx, ResourcePopular, page, r.catalogue.Popular)
}

func (r *Reader) TopRated(ctx context.Context, page int) (domain.Page[domain.Movie], error) {
	return r.moviePage(ctx, ResourceTopRated, page, r.catalogue.TopRated)
}

func (r *Reader) Upcoming(ctx context.Context, page int) (domain.Page[domain.Movie], error) {
	return r.moviePage(ctx, ResourceUpcoming, page, r.catalogue.Upcoming)
}

func (r *Reader) NowPlaying(ctx context.Context, page int) (domain.Page[domain.Movie], error) {
	return r.moviePage(ctx, ResourceNowPlaying, page, r.catalogue.NowPlaying)
}

func (r *Reader) Movie(ctx context.Context, id int) (domain.MovieDetails, error) {
	return querycache.Get(ctx, r.cache, querycache.NewKey(ResourceMovie, id), func(ctx context.Context) (domain.MovieDetails, error) {
		return r.catalogue.Movie(ctx, id)
	})
}

func (r *Reader) Credits(ctx context.Context, id int) (domain.Credits, error) {
	return querycache.Get(ctx, r.cache, querycache.NewKey(ResourceCredits, id), func(ctx context.Context) (domain.Credits, error) {
		return r.catalogue.Credits(ctx, id)
	})
}

func (r *Reader) Similar(ctx context.Context, id, page int) (domain.Page[domain.Movie], error) {
	page = normalizePage(page)
	return querycache.Get(ctx, r.cache, querycache.NewKey(ResourceSimilar, id, page), func(ctx context.Context) (domain.Page[domain.Movie], error) {
		return r.catalogue.Similar(ctx, id, page)
	})
}

func (r *Reader) Recommendations(ctx context.Context, id, page int) (domain.Page[domain.Movie], error) {
	page = normalizePage(page)
	return querycache.Get(ctx, r.cache, querycache.NewKey(ResourceRecommendations, id, page), func(ctx context.Context) (domain.Page[domain.Movie], error) {
		return r.catalogue.Recommendations(ctx, id, page)
	})
}

func (r *Reader) Genres(ctx context.Context) ([]domain.Genre, error) {
	return querycache.Get(ctx, r.cache, querycache.NewKey(ResourceGenres), r.catalogue.Genres)
}

func (r *Reader) GenreMovies(ctx context.Context, genreID, page int) (domain.Page[domain.Movie], error) {
	page = normalizePage(page)
	return querycache.Get(ctx, r.cache, querycache.NewKey(ResourceGenreMovies, genreID, page), func(ctx context.Context) (domain.Page[domain.Movie], error) {
		return r.catalogue.DiscoverByGenre(ctx, genreID, page)
	})
}

// SearchMovies returns an empty page without a remote call for a blank query.
func (r *Reader) SearchMovies(ctx context.Context, query string, page int) (domain.Page[domain.Movie], error) {
	if isBlank(query) {
		return domain.Page[domain.Movie]{Page: 1, Results: []domain.Movie{}}, nil
	}
	page = normalizePage(page)
	return querycache.Get(ctx, r.cache, querycache.NewKey(ResourceSearchMovies, query, page), func(ctx context.Context) (domain.Page[domain.Movie], error) {
		return r.catalogue.SearchMovies(ctx, query, page)
	})
}

func (r *Reader) PopularPeople(ctx context.Context, page int) (domain.Page[domain.Person], error) {
	page = normalizePage(page)
	return querycache.Get(ctx, r.cache, querycache.NewKey(ResourcePopularPeople, page), func(ctx context.Context) (domain.Page[domain.Person], error) {
		return r.catalogue.PopularPeople(ctx, page)
	})
}

func (r *Reader) Person(ctx context.Context, id int) (domain.PersonDetails, error) {
	return querycache.Get(ctx, r.cache, querycache.NewKey(ResourcePerson, id), func(ctx context.Context) (domain.PersonDetails, error) {
		return r.catalogue.Person(ctx, id)
	})
}

func (r *Reader) PersonCredits(ctx context.Context, id int) (domain.PersonCredits, error) {
	return querycache.Get(ctx, r.cache, querycache.NewKey(ResourcePersonCredits, id), func(ctx context.Context) (domain.PersonCredits, error) {
		return r.catalogue.PersonCredits(ctx, id)
	})
}

// SearchPeople returns an empty page without a remote call for a blank query.
func (r *Reader) SearchPeople(ctx context.Context, query string, page int) (domain.Page[domain.Person], error) {
	if isBlank(query) {
		return domain.Page[domain.Person]{Page: 1, Results: []domain.Person{}}, nil
	}
	page = normalizePage(page)
	return querycache.Get(ctx, r.cache, querycache.NewKey(ResourceSearchPeople, query, page), func(ctx context.Context) (domain.Page[domain.Person], error) {
		return r.catalogue.SearchPeople(ctx, query, page)
	})
}

// Watchlist lists the user's saved movies, newest first.
func (r *Reader) Watchlist(ctx context.Context, userID string) ([]domain.WatchlistItem, error) {
	return querycache.Get(ctx, r.cache, WatchlistKey(userID), func(ctx context.Context) ([]domain.WatchlistItem, error) {
		return r.watchlist.List(ctx, userID)
	})
}

// InWatchlist reports whether movieID is saved by userID.
func (r *Reader) InWatchlist(ctx context.Context, userID string, movieID int) (bool, error) {
	return querycache.Get(ctx, r.cache, WatchlistItemKey(userID, movieID), func(ctx context.Context) (bool, error) {
		return r.watchlist.Exists(ctx, userID, movieID)
	})
}

func (r *Reader) MovieReviews(ctx context.Context, movieID int) ([]domain.Review, error) {
	return querycache.Get(ctx, r.cache, MovieReviewsKey(movieID), func(ctx context.Context) ([]domain.Review, error) {
		return r.reviews.ListForMovie(ctx, movieID)
	})
}

func (r *Reader) UserReviews(ctx context.Context, userID string) ([]domain.Review, error) {
	return querycache.Get(ctx, r.cache, UserReviewsKey(userID), func(ctx context.Context) ([]domain.Review, error) {
		return r.reviews.List(ctx, userID)
	})
}

// MyReview returns the user's review of movieID, or nil when there is none.
func (r *Reader) MyReview(ctx context.Context, userID string, movieID int) (*domain.Review, error) {
	return querycache.Get(ctx, r.cache, MyReviewKey(userID, movieID), func(ctx context.Context) (*domain.Review, error) {
		return r.reviews.Find(ctx, userID, movieID)
	})
}

// Profile returns the user's profile, or nil when none was saved yet.
func (r *Reader) Profile(ctx context.Context, userID string) (*domain.Profile, error) {
	return querycache.Get(ctx, r.cache, ProfileKey(userID), func(ctx context.Context) (*domain.Profile, error) {
		return r.profiles.Get(ctx, userID)
	})
}
