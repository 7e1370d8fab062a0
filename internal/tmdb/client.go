// Package tmdb is a read-only client for the TMDB v3 catalogue API.
package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/Clark-Hu/cinelist/internal/domain"
	"github.com/Clark-Hu/cinelist/internal/logging"
)

var (
	// ErrNotFound is returned when upstream cannot find the requested resource.
	ErrNotFound = errors.New("tmdb: not found")
	// ErrInvalidWindow is returned for trending windows other than day and week.
	ErrInvalidWindow = errors.New("tmdb: time window must be day or week")
)

// Trending windows.
const (
	WindowDay  = "day"
	WindowWeek = "week"
)

// StatusError is a non-2xx upstream response.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("tmdb: upstream returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("tmdb: upstream returned %d", e.Status)
}

// Client defines the contract for querying the movie catalogue.
type Client interface {
	Trending(ctx context.Context, window string, page int) (domain.Page[domain.Movie], error)
	Popular(ctx context.Context, page int) (domain.Page[domain.Movie], error)
	TopRated(ctx context.Context, page int) (domain.Page[domain.Movie], error)
	Upcoming(ctx context.Context, page int) (domain.Page[domain.Movie], error)
	NowPlaying(ctx context.Context, page int) (domain.Page[domain.Movie], error)
	Movie(ctx context.Context, id int) (domain.MovieDetails, error)
	Credits(ctx context.Context, id int) (domain.Credits, error)
	Similar(ctx context.Context, id, page int) (domain.Page[domain.Movie], error)
	Recommendations(ctx context.Context, id, page int) (domain.Page[domain.Movie], error)
	Genres(ctx context.Context) ([]domain.Genre, error)
	DiscoverByGenre(ctx context.Context, genreID, page int) (domain.Page[domain.Movie], error)
	SearchMovies(ctx context.Context, query string, page int) (domain.Page[domain.Movie], error)
	PopularPeople(ctx context.Context, page int) (domain.Page[domain.Person], error)
	Person(ctx context.Context, id int) (domain.PersonDetails, error)
	PersonCredits(ctx context.Context, id int) (domain.PersonCredits, error)
	SearchPeople(ctx context.Context, query string, page int) (domain.Page[domain.Person], error)
}

// Options configure the HTTP client.
type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// RateLimit is requests per second. Zero disables limiting.
	RateLimit float64
	Attempts  uint
	Language  string
	Logger    *log.Logger
}

// HTTPClient implements Client over the TMDB v3 REST API.
type HTTPClient struct {
	baseURL  *url.URL
	apiKey   string
	language string
	client   *http.Client
	limiter  *rate.Limiter
	attempts uint
	logger   *log.Logger
}

// NewHTTPClient constructs a new HTTP-backed catalogue client.
func NewHTTPClient(opts Options) (*HTTPClient, error) {
	parsed, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse tmdb url: %w", err)
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	attempts := opts.Attempts
	if attempts == 0 {
		attempts = 3
	}
	dialTimeout := opts.Timeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL:  parsed,
		apiKey:   opts.APIKey,
		language: opts.Language,
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   dialTimeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   dialTimeout,
				ResponseHeaderTimeout: opts.Timeout,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
		limiter:  limiter,
		attempts: attempts,
		logger:   logging.Component(opts.Logger, "tmdb"),
	}, nil
}

func (c *HTTPClient) Trending(ctx context.Context, window string, page int) (domain.Page[domain.Movie], error) {
	if window != WindowDay && window != WindowWeek {
		return domain.Page[domain.Movie]{}, ErrInvalidWindow
	}
	return getPage[domain.Movie](ctx, c, "trending/movie/"+window, pageQuery(page))
}

func (c *HTTPClient) Popular(ctx context.Context, page int) (domain.Page[domain.Movie], error) {
	return getPage[domain.Movie](ctx, c, "movie/popular", pageQuery(page))
}

func (c *HTTPClient) TopRated(ctx context.Context, page int) (domain.Page[domain.Movie], error) {
	return getPage[domain.Movie](ctx, c, "movie/top_rated", pageQuery(page))
}

func (c *HTTPClient) Upcoming(ctx context.Context, page int) (domain.Page[domain.Movie], error) {
	return getPage[domain.Movie](ctx, c, "movie/upcoming", pageQuery(page))
}

func (c *HTTPClient) NowPlaying(ctx context.Context, page int) (domain.Page[domain.Movie], error) {
	return getPage[domain.Movie](ctx, c, "movie/now_playing", pageQuery(page))
}

func (c *HTTPClient) Movie(ctx context.Context, id int) (domain.MovieDetails, error) {
	var out domain.MovieDetails
	err := c.get(ctx, "movie/"+strconv.Itoa(id), nil, &out)
	return out, err
}

func (c *HTTPClient) Credits(ctx context.Context, id int) (domain.Credits, error) {
	var out domain.Credits
	err := c.get(ctx, "movie/"+strconv.Itoa(id)+"/credits", nil, &out)
	return out, err
}

func (c *HTTPClient) Similar(ctx context.Context, id, page int) (domain.Page[domain.Movie], error) {
	return getPage[domain.Movie](ctx, c, "movie/"+strconv.Itoa(id)+"/similar", pageQuery(page))
}

func (c *HTTPClient) Recommendations(ctx context.Context, id, page int) (domain.Page[domain.Movie], error) {
	return getPage[domain.Movie](ctx, c, "movie/"+strconv.Itoa(id)+"/recommendations", pageQuery(page))
}

func (c *HTTPClient) Genres(ctx context.Context) ([]domain.Genre, error) {
	var out struct {
		Genres []domain.Genre `json:"genres"`
	}
	if err := c.get(ctx, "genre/movie/list", nil, &out); err != nil {
		return nil, err
	}
	return out.Genres, nil
}

func (c *HTTPClient) DiscoverByGenre(ctx context.Context, genreID, page int) (domain.Page[domain.Movie], error) {
	q := pageQuery(page)
	q.Set("with_genres", strconv.Itoa(genreID))
	q.Set("sort_by", "popularity.desc")
	return getPage[domain.Movie](ctx, c, "discover/movie", q)
}

func (c *HTTPClient) SearchMovies(ctx context.Context, query string, page int) (domain.Page[domain.Movie], error) {
	q := pageQuery(page)
	q.Set("query", query)
	return getPage[domain.Movie](ctx, c, "search/movie", q)
}

func (c *HTTPClient) PopularPeople(ctx context.Context, page int) (domain.Page[domain.Person], error) {
	return getPage[domain.Person](ctx, c, "person/popular", pageQuery(page))
}

func (c *HTTPClient) Person(ctx context.Context, id int) (domain.PersonDetails, error) {
	var out domain.PersonDetails
	err := c.get(ctx, "person/"+strconv.Itoa(id), nil, &out)
	return out, err
}

func (c *HTTPClient) PersonCredits(ctx context.Context, id int) (domain.PersonCredits, error) {
	var out domain.PersonCredits
	err := c.get(ctx, "person/"+strconv.Itoa(id)+"/movie_credits", nil, &out)
	return out, err
}

func (c *HTTPClient) SearchPeople(ctx context.Context, query string, page int) (domain.Page[domain.Person], error) {
	q := pageQuery(page)
	q.Set("query", query)
	return getPage[domain.Person](ctx, c, "search/person", q)
}

func pageQuery(page int) url.Values {
	if page < 1 {
		page = 1
	}
	return url.Values{"page": {strconv.Itoa(page)}}
}

func getPage[T any](ctx context.Context, c *HTTPClient, path string, q url.Values) (domain.Page[T], error) {
	var out domain.Page[T]
	if err := c.get(ctx, path, q, &out); err != nil {
		return domain.Page[T]{}, err
	}
	if out.Results == nil {
		out.Results = []T{}
	}
	return out, nil
}

// get performs a rate-limited GET, retrying throttling and server errors.
func (c *HTTPClient) get(ctx context.Context, path string, q url.Values, out any) error {
	if q == nil {
		q = url.Values{}
	}
	q.Set("api_key", c.apiKey)
	if c.language != "" {
		q.Set("language", c.language)
	}
	endpoint := c.baseURL.JoinPath(path)
	endpoint.RawQuery = q.Encode()

	return retry.Do(func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return retry.Unrecoverable(err)
		}
		return c.once(ctx, endpoint.String(), path, out)
	},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(200*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryable),
	)
}

func (c *HTTPClient) once(ctx context.Context, endpoint, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode tmdb response: %w", err)
		}
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	default:
		var body struct {
			StatusMessage string `json:"status_message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		c.logger.Warn("unexpected status", "status", resp.StatusCode, "path", path)
		return &StatusError{Status: resp.StatusCode, Message: body.StatusMessage}
	}
}

func isRetryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status == http.StatusTooManyRequests || statusErr.Status >= http.StatusInternalServerError
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
