// Package auth tracks who is signed in. The Holder is the process-wide
// session state; a Provider talks to the identity service.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Clark-Hu/cinelist/internal/domain"
)

// ErrNoSession is returned when an operation needs a signed-in user.
var ErrNoSession = errors.New("auth: no active session")

// Session is an authenticated session as issued by the provider.
type Session struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	ExpiresAt    time.Time       `json:"expires_at"`
	User         domain.Identity `json:"user"`
}

// Expired reports whether the access token expires within leeway of now.
func (s *Session) Expired(now time.Time, leeway time.Duration) bool {
	if s == nil || s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(leeway).Before(s.ExpiresAt)
}

// EventKind enumerates provider session changes.
type EventKind int

const (
	EventSignedIn EventKind = iota + 1
	EventSignedOut
	EventTokenRefreshed
	EventUserUpdated
)

func (k EventKind) String() string {
	switch k {
	case EventSignedIn:
		return "signed_in"
	case EventSignedOut:
		return "signed_out"
	case EventTokenRefreshed:
		return "token_refreshed"
	case EventUserUpdated:
		return "user_updated"
	default:
		return "unknown"
	}
}

// Event is a session change pushed by the provider. Session is nil on sign-out.
type Event struct {
	Kind    EventKind
	Session *Session
}

// SignUpResult describes a registration. When email confirmation is required
// Session is nil and ConfirmationPending is set.
type SignUpResult struct {
	User                domain.Identity
	Session             *Session
	ConfirmationPending bool
}

// Provider is the identity service contract.
type Provider interface {
	// GetSession recovers the persisted session, or returns nil when there is none.
	GetSession(ctx context.Context) (*Session, error)
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignUp(ctx context.Context, email, password string) (*SignUpResult, error)
	SignOut(ctx context.Context) error
	Refresh(ctx context.Context) (*Session, error)
	UpdatePassword(ctx context.Context, password string) error
	ResetPassword(ctx context.Context, email, redirectTo string) error
	Subscribe(fn func(Event)) (unsubscribe func())
}

// SessionStore persists the session between runs.
type SessionStore interface {
	Load() (*Session, error)
	Save(*Session) error
	Clear() error
}

// FileSessionStore keeps the session as JSON in a single file readable only by
// the current user.
type FileSessionStore struct {
	Path string
	mu   sync.Mutex
}

// NewFileSessionStore returns a store writing to path.
func NewFileSessionStore(path string) *FileSessionStore {
	return &FileSessionStore{Path: path}
}

// Load returns nil without error when no session was saved.
func (f *FileSessionStore) Load() (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	payload, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}
	var s Session
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("decode session file: %w", err)
	}
	if s.AccessToken == "" {
		return nil, nil
	}
	return &s, nil
}

func (f *FileSessionStore) Save(s *Session) error {
	if s == nil {
		return f.Clear()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	payload, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return os.Rename(tmp, f.Path)
}

func (f *FileSessionStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

// MemorySessionStore keeps the session in memory only.
type MemorySessionStore struct {
	mu      sync.Mutex
	session *Session
}

func (m *MemorySessionStore) Load() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, nil
	}
	cp := *m.session
	return &cp, nil
}

func (m *MemorySessionStore) Save(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s == nil {
		m.session = nil
		return nil
	}
	cp := *s
	m.session = &cp
	return nil
}

func (m *MemorySessionStore) Clear() error { return m.Save(nil) }
