package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Clark-Hu/cinelist/internal/domain"
)

// fakeProvider is an in-memory Provider.
type fakeProvider struct {
	mu         sync.Mutex
	session    *Session
	getErr     error
	getGate    chan struct{}
	refreshed  int
	subs       []func(Event)
	signOutErr error
}

func (f *fakeProvider) GetSession(ctx context.Context) (*Session, error) {
	if f.getGate != nil {
		<-f.getGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session, f.getErr
}

func (f *fakeProvider) SignIn(_ context.Context, email, password string) (*Session, error) {
	if password != "secret" {
		return nil, ErrInvalidCredentials
	}
	s := &Session{AccessToken: "tok-" + email, User: domain.Identity{ID: "id-" + email, Email: email}}
	f.mu.Lock()
	f.session = s
	f.mu.Unlock()
	return s, nil
}

func (f *fakeProvider) SignUp(_ context.Context, email, _ string) (*SignUpResult, error) {
	return &SignUpResult{User: domain.Identity{ID: "new", Email: email}, ConfirmationPending: true}, nil
}

func (f *fakeProvider) SignOut(context.Context) error {
	f.mu.Lock()
	f.session = nil
	f.mu.Unlock()
	return f.signOutErr
}

func (f *fakeProvider) Refresh(context.Context) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed++
	if f.session == nil {
		return nil, ErrNoSession
	}
	next := *f.session
	next.AccessToken = "refreshed"
	next.ExpiresAt = time.Time{}
	f.session = &next
	return &next, nil
}

func (f *fakeProvider) UpdatePassword(context.Context, string) error { return nil }
func (f *fakeProvider) ResetPassword(context.Context, string, string) error {
	return nil
}

func (f *fakeProvider) Subscribe(fn func(Event)) func() {
	f.mu.Lock()
	f.subs = append(f.subs, fn)
	f.mu.Unlock()
	return func() {}
}

func (f *fakeProvider) emit(ev Event) {
	f.mu.Lock()
	subs := append([]func(Event){}, f.subs...)
	f.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func TestHolderStartsLoadingThenRecoversSession(t *testing.T) {
	provider := &fakeProvider{
		session: &Session{AccessToken: "tok", User: domain.Identity{ID: "u1"}},
		getGate: make(chan struct{}),
	}
	holder := NewHolder(provider, HolderOptions{})
	assert.Equal(t, StateUninitialized, holder.Snapshot().State)
	assert.True(t, holder.Snapshot().IsLoading())

	errCh := make(chan error, 1)
	go func() { errCh <- holder.Start(context.Background()) }()

	require.Eventually(t, func() bool { return holder.Snapshot().State == StateLoading }, time.Second, time.Millisecond)
	_, ok := holder.SessionUserID(context.Background())
	assert.False(t, ok)

	close(provider.getGate)
	require.NoError(t, <-errCh)
	<-holder.Ready()

	id, ok := holder.Snapshot().Authenticated()
	require.True(t, ok)
	assert.Equal(t, "u1", id.ID)
}

func TestHolderWithoutSessionIsUnauthenticated(t *testing.T) {
	holder := NewHolder(&fakeProvider{}, HolderOptions{})
	require.NoError(t, holder.Start(context.Background()))

	snap := holder.Snapshot()
	assert.Equal(t, StateUnauthenticated, snap.State)
	assert.False(t, snap.IsLoading())

	_, err := holder.Token()
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestHolderRecoveryFailureEndsUnauthenticated(t *testing.T) {
	holder := NewHolder(&fakeProvider{getErr: errors.New("disk")}, HolderOptions{})
	require.Error(t, holder.Start(context.Background()))
	assert.Equal(t, StateUnauthenticated, holder.Snapshot().State)
	require.Error(t, holder.Start(context.Background()), "second start is rejected")
}

func TestHolderSignInSignOutFireIdentityHooks(t *testing.T) {
	provider := &fakeProvider{}
	holder := NewHolder(provider, HolderOptions{})
	require.NoError(t, holder.Start(context.Background()))

	var changes [][2]string
	holder.OnIdentityChange(func(prev, next string) { changes = append(changes, [2]string{prev, next}) })

	var states []State
	unsubscribe := holder.Subscribe(func(s Snapshot) { states = append(states, s.State) })
	defer unsubscribe()

	_, err := holder.SignIn(context.Background(), "a@example.com", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	identity, err := holder.SignIn(context.Background(), "a@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "id-a@example.com", identity.ID)

	require.NoError(t, holder.SignOut(context.Background()))

	assert.Equal(t, [][2]string{{"", "id-a@example.com"}, {"id-a@example.com", ""}}, changes)
	assert.Equal(t, []State{StateAuthenticated, StateUnauthenticated}, states)
}

func TestHolderFollowsProviderEvents(t *testing.T) {
	provider := &fakeProvider{}
	holder := NewHolder(provider, HolderOptions{})
	require.NoError(t, holder.Start(context.Background()))

	provider.emit(Event{Kind: EventSignedIn, Session: &Session{AccessToken: "t", User: domain.Identity{ID: "u2"}}})
	id, ok := holder.SessionUserID(context.Background())
	require.True(t, ok)
	assert.Equal(t, "u2", id)

	provider.emit(Event{Kind: EventSignedOut})
	_, ok = holder.SessionUserID(context.Background())
	assert.False(t, ok)
}

func TestHolderSignOutClearsLocallyOnProviderError(t *testing.T) {
	provider := &fakeProvider{
		session:    &Session{AccessToken: "tok", User: domain.Identity{ID: "u1"}},
		signOutErr: errors.New("network"),
	}
	holder := NewHolder(provider, HolderOptions{})
	require.NoError(t, holder.Start(context.Background()))

	require.Error(t, holder.SignOut(context.Background()))
	assert.Equal(t, StateUnauthenticated, holder.Snapshot().State)
}

func TestHolderTokenRefreshesNearExpiry(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	provider := &fakeProvider{session: &Session{
		AccessToken:  "old",
		RefreshToken: "r",
		ExpiresAt:    clock.Now().Add(10 * time.Second),
		User:         domain.Identity{ID: "u1"},
	}}
	holder := NewHolder(provider, HolderOptions{Clock: clock})
	require.NoError(t, holder.Start(context.Background()))

	tok, err := holder.Token()
	require.NoError(t, err)
	assert.Equal(t, "refreshed", tok.AccessToken)
	assert.Equal(t, 1, provider.refreshed)

	tok, err = holder.Token()
	require.NoError(t, err)
	assert.Equal(t, "refreshed", tok.AccessToken)
	assert.Equal(t, 1, provider.refreshed)
}

func TestHolderUpdatePasswordNeedsSession(t *testing.T) {
	holder := NewHolder(&fakeProvider{}, HolderOptions{})
	require.NoError(t, holder.Start(context.Background()))
	assert.ErrorIs(t, holder.UpdatePassword(context.Background(), "n3w"), ErrNoSession)
}
