package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jonboulle/clockwork"
	"golang.org/x/oauth2"

	"github.com/Clark-Hu/cinelist/internal/domain"
	"github.com/Clark-Hu/cinelist/internal/logging"
)

// State is the holder's lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateAuthenticated
	StateUnauthenticated
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return "uninitialized"
	}
}

// Snapshot is a copy of the holder state. Identity is only meaningful when
// State is StateAuthenticated.
type Snapshot struct {
	State    State
	Identity domain.Identity
}

// IsLoading is true until the persisted session has been recovered.
// Loading is never the same as signed out.
func (s Snapshot) IsLoading() bool {
	return s.State == StateUninitialized || s.State == StateLoading
}

// Authenticated returns the identity when a user is signed in.
func (s Snapshot) Authenticated() (domain.Identity, bool) {
	if s.State != StateAuthenticated {
		return domain.Identity{}, false
	}
	return s.Identity, true
}

// HolderOptions configure a Holder.
type HolderOptions struct {
	Clock  clockwork.Clock
	Logger *log.Logger
	// RefreshLeeway renews the access token this long before it expires.
	RefreshLeeway time.Duration
}

// Holder is the single source of truth for "who is signed in".
type Holder struct {
	provider Provider
	clock    clockwork.Clock
	logger   *log.Logger
	leeway   time.Duration

	mu         sync.RWMutex
	state      State
	session    *Session
	subs       map[uint64]func(Snapshot)
	nextSub    uint64
	onChange   []func(prev, next string)
	ready      chan struct{}
	readyOnce  sync.Once
	stopEvents func()
}

// NewHolder creates a holder in the uninitialized state.
func NewHolder(provider Provider, opts HolderOptions) *Holder {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	leeway := opts.RefreshLeeway
	if leeway <= 0 {
		leeway = 30 * time.Second
	}
	return &Holder{
		provider: provider,
		clock:    clock,
		logger:   logging.Component(opts.Logger, "auth"),
		leeway:   leeway,
		subs:     make(map[uint64]func(Snapshot)),
		ready:    make(chan struct{}),
	}
}

// Start recovers the persisted session and subscribes to provider events for
// the lifetime of the holder. It must be called once.
func (h *Holder) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.state != StateUninitialized {
		h.mu.Unlock()
		return fmt.Errorf("auth: holder already started")
	}
	h.state = StateLoading
	h.mu.Unlock()
	h.notify()

	stop := h.provider.Subscribe(h.handleEvent)
	h.mu.Lock()
	h.stopEvents = stop
	h.mu.Unlock()

	session, err := h.provider.GetSession(ctx)
	if err != nil {
		h.logger.Warn("session recovery failed", "err", err)
		session = nil
	}
	h.apply(session)
	h.readyOnce.Do(func() { close(h.ready) })
	if err != nil {
		return fmt.Errorf("recover session: %w", err)
	}
	return nil
}

// Stop detaches from provider events.
func (h *Holder) Stop() {
	h.mu.Lock()
	stop := h.stopEvents
	h.stopEvents = nil
	h.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// Ready is closed once the initial session recovery finished.
func (h *Holder) Ready() <-chan struct{} { return h.ready }

// Snapshot returns the current state without blocking on I/O.
func (h *Holder) Snapshot() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snapshotLocked()
}

func (h *Holder) snapshotLocked() Snapshot {
	snap := Snapshot{State: h.state}
	if h.state == StateAuthenticated && h.session != nil {
		snap.Identity = h.session.User
	}
	return snap
}

// Subscribe registers fn for state changes.
func (h *Holder) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	h.mu.Lock()
	id := h.nextSub
	h.nextSub++
	h.subs[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

// OnIdentityChange registers fn to run whenever the signed-in user id changes.
// prev or next is empty when nobody is signed in.
func (h *Holder) OnIdentityChange(fn func(prev, next string)) {
	h.mu.Lock()
	h.onChange = append(h.onChange, fn)
	h.mu.Unlock()
}

// SessionUserID reports the signed-in user.
func (h *Holder) SessionUserID(context.Context) (string, bool) {
	id, ok := h.Snapshot().Authenticated()
	return id.ID, ok
}

// Token returns the current access token, renewing it when it is about to
// expire.
func (h *Holder) Token() (*oauth2.Token, error) {
	h.mu.RLock()
	session := h.session
	h.mu.RUnlock()
	if session == nil {
		return nil, ErrNoSession
	}
	if session.Expired(h.clock.Now(), h.leeway) && session.RefreshToken != "" {
		refreshed, err := h.provider.Refresh(context.Background())
		if err != nil {
			h.logger.Warn("token refresh failed", "err", err)
			return nil, fmt.Errorf("refresh token: %w", err)
		}
		h.apply(refreshed)
		session = refreshed
		if session == nil {
			return nil, ErrNoSession
		}
	}
	return &oauth2.Token{
		AccessToken: session.AccessToken,
		TokenType:   "Bearer",
		Expiry:      session.ExpiresAt,
	}, nil
}

// SignIn authenticates with email and password.
func (h *Holder) SignIn(ctx context.Context, email, password string) (domain.Identity, error) {
	session, err := h.provider.SignIn(ctx, email, password)
	if err != nil {
		return domain.Identity{}, err
	}
	h.apply(session)
	return session.User, nil
}

// SignUp registers a new account. A session is only applied when the
// provider does not require email confirmation.
func (h *Holder) SignUp(ctx context.Context, email, password string) (*SignUpResult, error) {
	res, err := h.provider.SignUp(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if res.Session != nil {
		h.apply(res.Session)
	}
	return res, nil
}

// SignOut ends the session locally even when the provider call fails.
func (h *Holder) SignOut(ctx context.Context) error {
	err := h.provider.SignOut(ctx)
	h.apply(nil)
	return err
}

// UpdatePassword changes the signed-in user's password.
func (h *Holder) UpdatePassword(ctx context.Context, password string) error {
	if _, ok := h.SessionUserID(ctx); !ok {
		return ErrNoSession
	}
	return h.provider.UpdatePassword(ctx, password)
}

// ResetPassword sends a recovery email.
func (h *Holder) ResetPassword(ctx context.Context, email, redirectTo string) error {
	return h.provider.ResetPassword(ctx, email, redirectTo)
}

func (h *Holder) handleEvent(ev Event) {
	h.logger.Debug("provider event", "kind", ev.Kind)
	switch ev.Kind {
	case EventSignedOut:
		h.apply(nil)
	default:
		if ev.Session != nil {
			h.apply(ev.Session)
		}
	}
}

// apply moves to Authenticated or Unauthenticated. Events that arrive before
// Start are ignored.
func (h *Holder) apply(session *Session) {
	h.mu.Lock()
	if h.state == StateUninitialized {
		h.mu.Unlock()
		return
	}
	prev := h.userIDLocked()
	before := h.snapshotLocked()
	if session != nil {
		cp := *session
		h.session = &cp
		h.state = StateAuthenticated
	} else {
		h.session = nil
		h.state = StateUnauthenticated
	}
	next := h.userIDLocked()
	after := h.snapshotLocked()
	hooks := append([]func(prev, next string){}, h.onChange...)
	h.mu.Unlock()

	if prev != next {
		h.logger.Info("identity changed", "from", prev, "to", next)
		for _, fn := range hooks {
			fn(prev, next)
		}
	}
	if before != after {
		h.notify()
	}
}

func (h *Holder) userIDLocked() string {
	if h.state != StateAuthenticated || h.session == nil {
		return ""
	}
	return h.session.User.ID
}

func (h *Holder) notify() {
	h.mu.RLock()
	snap := h.snapshotLocked()
	fns := make([]func(Snapshot), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()
	for _, fn := range fns {
		fn(snap)
	}
}
