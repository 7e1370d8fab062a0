package queries

import (
	"fmt"
	"sort"
	"time"

	"github.com/Clark-Hu/cinelist/internal/config"
	"github.com/Clark-Hu/cinelist/internal/querycache"
)

// policyNames maps the bare TOML keys of a policy file to resource tags.
// Full tags are accepted as quoted keys too.
var policyNames = map[string]string{
	"watchlist":       ResourceWatchlist,
	"reviews-movie":   ResourceMovieReviews,
	"reviews-user":    ResourceUserReviews,
	"reviews-mine":    ResourceMyReview,
	"profile":         ResourceProfile,
	"trending-day":    ResourceTrendingDay,
	"trending-week":   ResourceTrendingWeek,
	"popular":         ResourcePopular,
	"top-rated":       ResourceTopRated,
	"upcoming":        ResourceUpcoming,
	"now-playing":     ResourceNowPlaying,
	"movie":           ResourceMovie,
	"credits":         ResourceCredits,
	"similar":         ResourceSimilar,
	"recommendations": ResourceRecommendations,
	"genres":          ResourceGenres,
	"genre-movies":    ResourceGenreMovies,
	"search-movies":   ResourceSearchMovies,
	"people-popular":  ResourcePopularPeople,
	"person":          ResourcePerson,
	"person-credits":  ResourcePersonCredits,
	"search-people":   ResourceSearchPeople,
}

// ApplyPolicyFile layers the overrides of file on top of base.
func ApplyPolicyFile(base querycache.Policy, file *config.CachePolicyFile) (querycache.Policy, error) {
	if file == nil {
		return base, nil
	}
	if file.Default != nil {
		base.Default = file.Default.Duration
	}
	if file.GC != nil {
		base.GCTime = file.GC.Duration
	}

	names := make([]string, 0, len(file.Stale))
	for name := range file.Stale {
		names = append(names, name)
	}
	sort.Strings(names)

	known := DefaultPolicy().Stale
	overrides := make(map[string]time.Duration, len(names))
	for _, name := range names {
		resource, ok := policyNames[name]
		if !ok {
			if _, full := known[name]; !full {
				return base, fmt.Errorf("unknown cache resource %q", name)
			}
			resource = name
		}
		overrides[resource] = file.Stale[name].Duration
	}
	return base.WithOverrides(overrides), nil
}
