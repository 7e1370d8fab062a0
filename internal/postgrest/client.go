// Package postgrest talks to a PostgREST (Supabase REST) endpoint for the
// watchlist, reviews and profiles tables. Row-level security is enforced by the
// server from the bearer token.
package postgrest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/Clark-Hu/cinelist/internal/logging"
)

const (
	mediaJSON   = "application/json"
	mediaObject = "application/vnd.pgrst.object+json"
)

// APIError is the error body PostgREST returns, plus the HTTP status.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("postgrest: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("postgrest: upstream returned %d", e.Status)
}

// BackendCode returns the PostgREST/SQLSTATE code, falling back to the status.
func (e *APIError) BackendCode() string {
	if e.Code != "" {
		return e.Code
	}
	return strconv.Itoa(e.Status)
}

func (e *APIError) retryable() bool {
	if e.Status >= http.StatusInternalServerError {
		return true
	}
	return e.Status == http.StatusNotAcceptable && e.Code != "PGRST116"
}

// Options configure the client.
type Options struct {
	BaseURL string
	APIKey  string
	// Tokens supplies the user's access token. The API key is sent as bearer
	// when it is nil or fails.
	Tokens   oauth2.TokenSource
	Timeout  time.Duration
	Attempts uint
	Logger   *log.Logger
	// HTTPClient overrides the transport; Tokens is ignored when set.
	HTTPClient *http.Client
}

// Client is a PostgREST HTTP client exposing one table handle per resource.
type Client struct {
	baseURL  *url.URL
	apiKey   string
	client   *http.Client
	attempts uint
	logger   *log.Logger

	Watchlist *WatchlistTable
	Reviews   *ReviewsTable
	Profiles  *ProfilesTable
}

// New constructs a PostgREST client.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("postgrest: base url is required")
	}
	parsed, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse postgrest url: %w", err)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: opts.Timeout,
			Transport: &oauth2.Transport{
				Source: anonFallback{src: opts.Tokens, apiKey: opts.APIKey},
				Base: &http.Transport{
					Proxy: http.ProxyFromEnvironment,
					DialContext: (&net.Dialer{
						Timeout:   10 * time.Second,
						KeepAlive: 30 * time.Second,
					}).DialContext,
					TLSHandshakeTimeout:   10 * time.Second,
					ExpectContinueTimeout: 1 * time.Second,
				},
			},
		}
	}
	attempts := opts.Attempts
	if attempts == 0 {
		attempts = 3
	}
	c := &Client{
		baseURL:  parsed,
		apiKey:   opts.APIKey,
		client:   httpClient,
		attempts: attempts,
		logger:   logging.Component(opts.Logger, "postgrest"),
	}
	c.Watchlist = &WatchlistTable{c: c}
	c.Reviews = &ReviewsTable{c: c}
	c.Profiles = &ProfilesTable{c: c}
	return c, nil
}

// anonFallback sends the project API key as bearer when there is no session,
// which PostgREST maps to the anonymous role.
type anonFallback struct {
	src    oauth2.TokenSource
	apiKey string
}

func (a anonFallback) Token() (*oauth2.Token, error) {
	if a.src != nil {
		if tok, err := a.src.Token(); err == nil && tok.AccessToken != "" {
			return tok, nil
		}
	}
	return &oauth2.Token{AccessToken: a.apiKey, TokenType: "Bearer"}, nil
}

type request struct {
	method string
	table  string
	query  url.Values
	body   any
	single bool
	prefer []string
}

// do executes req and decodes the response into out. GETs are retried on
// transient failures.
func (c *Client) do(ctx context.Context, req request, out any) error {
	var payload []byte
	if req.body != nil {
		var err error
		payload, err = json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", req.table, err)
		}
	}

	attempt := func() error { return c.once(ctx, req, payload, out) }
	if req.method != http.MethodGet {
		return attempt()
	}
	return retry.Do(attempt,
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(100*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryable),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Debug("retrying", "table", req.table, "attempt", n+1, "err", err)
		}),
	)
}

func (c *Client) once(ctx context.Context, req request, payload []byte, out any) error {
	endpoint := c.baseURL.JoinPath(req.table)
	if req.query != nil {
		endpoint.RawQuery = req.query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, endpoint.String(), body)
	if err != nil {
		return err
	}
	httpReq.Header.Set("apikey", c.apiKey)
	httpReq.Header.Set("X-Request-Id", uuid.NewString())
	if req.single {
		httpReq.Header.Set("Accept", mediaObject)
	} else {
		httpReq.Header.Set("Accept", mediaJSON)
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", mediaJSON)
	}
	if len(req.prefer) > 0 {
		httpReq.Header.Set("Prefer", strings.Join(req.prefer, ","))
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", req.table, err)
		}
		return nil
	}

	apiErr := &APIError{Status: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, apiErr)
	}
	c.logger.Debug("request failed", "method", req.method, "table", req.table,
		"status", resp.StatusCode, "code", apiErr.Code)
	return apiErr
}

func isRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.retryable()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func eq(v any) string { return fmt.Sprintf("eq.%v", v) }

// ownerMismatch tells a row hidden by policy apart from a missing one after a
// write matched nothing. Reviews and profiles are publicly readable.
func (c *Client) ownerMismatch(ctx context.Context, table, column, value string) error {
	var rows []struct{}
	err := c.do(ctx, request{
		method: http.MethodGet,
		table:  table,
		query:  url.Values{"select": {column}, column: {eq(value)}},
	}, &rows)
	if err != nil {
		return err
	}
	if len(rows) > 0 {
		return &APIError{Status: http.StatusForbidden, Code: "42501", Message: "row belongs to another user"}
	}
	return &APIError{Status: http.StatusNotAcceptable, Code: "PGRST116", Message: "no rows"}
}

func isNoRows(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == "PGRST116"
}
