package auth

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
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/Clark-Hu/cinelist/internal/domain"
	"github.com/Clark-Hu/cinelist/internal/logging"
)

// ErrInvalidCredentials is returned when email or password is wrong.
var ErrInvalidCredentials = errors.New("auth: invalid login credentials")

// APIError is an error response of the identity service.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("auth: %d %s", e.Status, e.Message)
	}
	return fmt.Sprintf("auth: upstream returned %d", e.Status)
}

// GoTrueOptions configure a GoTrue client.
type GoTrueOptions struct {
	BaseURL   string
	APIKey    string
	JWTSecret string
	Store     SessionStore
	Timeout   time.Duration
	Clock     clockwork.Clock
	Logger    *log.Logger
	// HTTPClient overrides the default client, mostly for tests.
	HTTPClient *http.Client
}

// GoTrue implements Provider against a Supabase GoTrue endpoint.
type GoTrue struct {
	baseURL *url.URL
	apiKey  string
	secret  []byte
	store   SessionStore
	client  *http.Client
	clock   clockwork.Clock
	logger  *log.Logger

	mu      sync.Mutex
	session *Session
	loaded  bool

	subMu   sync.Mutex
	subs    map[uint64]func(Event)
	nextSub uint64
}

// NewGoTrue constructs the provider.
func NewGoTrue(opts GoTrueOptions) (*GoTrue, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("auth: base url is required")
	}
	parsed, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse auth url: %w", err)
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		}
	}
	store := opts.Store
	if store == nil {
		store = &MemorySessionStore{}
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &GoTrue{
		baseURL: parsed,
		apiKey:  opts.APIKey,
		secret:  []byte(opts.JWTSecret),
		store:   store,
		client:  client,
		clock:   clock,
		logger:  logging.Component(opts.Logger, "gotrue"),
		subs:    make(map[uint64]func(Event)),
	}, nil
}

// GetSession returns the persisted session, refreshing it when expired. A
// session that can no longer be refreshed is discarded.
func (g *GoTrue) GetSession(ctx context.Context) (*Session, error) {
	g.mu.Lock()
	if !g.loaded {
		stored, err := g.store.Load()
		if err != nil {
			g.mu.Unlock()
			return nil, err
		}
		g.session = stored
		g.loaded = true
	}
	session := g.session
	g.mu.Unlock()

	if session == nil {
		return nil, nil
	}
	if !session.Expired(g.clock.Now(), 0) {
		cp := *session
		return &cp, nil
	}
	refreshed, err := g.Refresh(ctx)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status < http.StatusInternalServerError {
			g.logger.Info("persisted session expired", "err", err)
			g.setSession(nil)
			return nil, nil
		}
		return nil, err
	}
	return refreshed, nil
}

// SignIn exchanges email and password for a session.
func (g *GoTrue) SignIn(ctx context.Context, email, password string) (*Session, error) {
	var payload tokenResponse
	err := g.call(ctx, http.MethodPost, "token", url.Values{"grant_type": {"password"}}, "",
		map[string]string{"email": email, "password": password}, &payload)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusBadRequest {
			return nil, fmt.Errorf("%w: %s", ErrInvalidCredentials, apiErr.Message)
		}
		return nil, err
	}
	session, err := g.sessionFrom(payload)
	if err != nil {
		return nil, err
	}
	g.setSession(session)
	g.emit(Event{Kind: EventSignedIn, Session: session})
	return session, nil
}

// SignUp registers an account. Projects requiring email confirmation return
// the user without a session.
func (g *GoTrue) SignUp(ctx context.Context, email, password string) (*SignUpResult, error) {
	var raw json.RawMessage
	err := g.call(ctx, http.MethodPost, "signup", nil, "",
		map[string]string{"email": email, "password": password}, &raw)
	if err != nil {
		return nil, err
	}

	var payload tokenResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode signup response: %w", err)
	}
	if payload.AccessToken == "" {
		var user userPayload
		if err := json.Unmarshal(raw, &user); err != nil {
			return nil, fmt.Errorf("decode signup user: %w", err)
		}
		return &SignUpResult{User: user.identity(), ConfirmationPending: true}, nil
	}

	session, err := g.sessionFrom(payload)
	if err != nil {
		return nil, err
	}
	g.setSession(session)
	g.emit(Event{Kind: EventSignedIn, Session: session})
	return &SignUpResult{User: session.User, Session: session}, nil
}

// SignOut revokes the session remotely and always clears it locally.
func (g *GoTrue) SignOut(ctx context.Context) error {
	session := g.current()
	var err error
	if session != nil {
		err = g.call(ctx, http.MethodPost, "logout", nil, session.AccessToken, nil, nil)
	}
	g.setSession(nil)
	g.emit(Event{Kind: EventSignedOut})
	if err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	return nil
}

// Refresh exchanges the refresh token for a new session.
func (g *GoTrue) Refresh(ctx context.Context) (*Session, error) {
	session := g.current()
	if session == nil || session.RefreshToken == "" {
		return nil, ErrNoSession
	}
	var payload tokenResponse
	err := g.call(ctx, http.MethodPost, "token", url.Values{"grant_type": {"refresh_token"}}, "",
		map[string]string{"refresh_token": session.RefreshToken}, &payload)
	if err != nil {
		return nil, err
	}
	refreshed, err := g.sessionFrom(payload)
	if err != nil {
		return nil, err
	}
	g.setSession(refreshed)
	g.emit(Event{Kind: EventTokenRefreshed, Session: refreshed})
	return refreshed, nil
}

// UpdatePassword changes the password of the signed-in user.
func (g *GoTrue) UpdatePassword(ctx context.Context, password string) error {
	session := g.current()
	if session == nil {
		return ErrNoSession
	}
	var user userPayload
	if err := g.call(ctx, http.MethodPut, "user", nil, session.AccessToken,
		map[string]string{"password": password}, &user); err != nil {
		return err
	}
	updated := *session
	updated.User = user.identity()
	g.setSession(&updated)
	g.emit(Event{Kind: EventUserUpdated, Session: &updated})
	return nil
}

// ResetPassword sends a recovery email.
func (g *GoTrue) ResetPassword(ctx context.Context, email, redirectTo string) error {
	var query url.Values
	if redirectTo != "" {
		query = url.Values{"redirect_to": {redirectTo}}
	}
	return g.call(ctx, http.MethodPost, "recover", query, "", map[string]string{"email": email}, nil)
}

// Subscribe registers fn for session events.
func (g *GoTrue) Subscribe(fn func(Event)) (unsubscribe func()) {
	g.subMu.Lock()
	id := g.nextSub
	g.nextSub++
	g.subs[id] = fn
	g.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.subMu.Lock()
			delete(g.subs, id)
			g.subMu.Unlock()
		})
	}
}

func (g *GoTrue) emit(ev Event) {
	g.subMu.Lock()
	fns := make([]func(Event), 0, len(g.subs))
	for _, fn := range g.subs {
		fns = append(fns, fn)
	}
	g.subMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (g *GoTrue) current() *Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.session == nil {
		return nil
	}
	cp := *g.session
	return &cp
}

func (g *GoTrue) setSession(s *Session) {
	g.mu.Lock()
	g.session = s
	g.loaded = true
	g.mu.Unlock()

	var err error
	if s == nil {
		err = g.store.Clear()
	} else {
		err = g.store.Save(s)
	}
	if err != nil {
		g.logger.Warn("persist session failed", "err", err)
	}
}

type tokenResponse struct {
	AccessToken  string      `json:"access_token"`
	TokenType    string      `json:"token_type"`
	ExpiresIn    int64       `json:"expires_in"`
	ExpiresAt    int64       `json:"expires_at"`
	RefreshToken string      `json:"refresh_token"`
	User         userPayload `json:"user"`
}

type userPayload struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	CreatedAt    time.Time `json:"created_at"`
	UserMetadata struct {
		AvatarURL string `json:"avatar_url"`
	} `json:"user_metadata"`
}

func (u userPayload) identity() domain.Identity {
	return domain.Identity{
		ID:        u.ID,
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
		AvatarURL: u.UserMetadata.AvatarURL,
	}
}

// sessionFrom builds a Session, cross-checking the token claims against the
// returned user.
func (g *GoTrue) sessionFrom(p tokenResponse) (*Session, error) {
	if p.AccessToken == "" {
		return nil, errors.New("auth: response carried no access token")
	}
	claims, err := parseAccessToken(p.AccessToken, g.secret)
	if err != nil {
		return nil, err
	}
	user := p.User.identity()
	if user.ID == "" {
		user.ID = claims.Subject
		user.Email = claims.Email
	}
	if claims.Subject != "" && claims.Subject != user.ID {
		return nil, errSubjectMismatch
	}

	expires := claims.expiry()
	switch {
	case p.ExpiresAt > 0:
		expires = time.Unix(p.ExpiresAt, 0)
	case expires.IsZero() && p.ExpiresIn > 0:
		expires = g.clock.Now().Add(time.Duration(p.ExpiresIn) * time.Second)
	}
	return &Session{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		ExpiresAt:    expires.UTC(),
		User:         user,
	}, nil
}

type errorPayload struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

func (g *GoTrue) call(ctx context.Context, method, path string, query url.Values, bearer string, body, out any) error {
	endpoint := g.baseURL.JoinPath(path)
	if query != nil {
		endpoint.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", g.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
		return nil
	}

	var payload errorPayload
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&payload)
	apiErr := &APIError{Status: resp.StatusCode, Code: firstNonEmpty(payload.ErrorCode, payload.Error)}
	apiErr.Message = firstNonEmpty(payload.ErrorDescription, payload.Msg, payload.Message)
	g.logger.Debug("request failed", "path", path, "status", resp.StatusCode, "code", apiErr.Code)
	return apiErr
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
