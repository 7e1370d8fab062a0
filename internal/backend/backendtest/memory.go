// Package backendtest provides an in-memory backend for tests of the layers
// above the resource clients.
package backendtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Clark-Hu/cinelist/internal/domain"
)

// Memory holds the three tables with their unique (user_id, movie_id)
// constraints. Errors use the same codes Postgres reports.
type Memory struct {
	mu        sync.Mutex
	watchlist map[string]domain.WatchlistItem
	reviews   map[string]domain.Review
	profiles  map[string]domain.Profile
	seq       int
	failWith  error
	gate      chan struct{}
	writes    int
	reads     int
	actor     func(ctx context.Context) (string, bool)
}

func NewMemory() *Memory {
	return &Memory{
		watchlist: map[string]domain.WatchlistItem{},
		reviews:   map[string]domain.Review{},
		profiles:  map[string]domain.Profile{},
	}
}

// Fail makes every following call return err. Fail(nil) clears it.
func (m *Memory) Fail(err error) {
	m.mu.Lock()
	m.failWith = err
	m.mu.Unlock()
}

// Hold blocks writes until the returned release func is called.
func (m *Memory) Hold() (release func()) {
	gate := make(chan struct{})
	m.mu.Lock()
	m.gate = gate
	m.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.gate = nil
			m.mu.Unlock()
			close(gate)
		})
	}
}

// ActAs makes review updates and deletes check the row owner against the
// user actor reports, as row-level security does. Rows of other users fail
// with SQLSTATE 42501.
func (m *Memory) ActAs(actor func(ctx context.Context) (string, bool)) {
	m.mu.Lock()
	m.actor = actor
	m.mu.Unlock()
}

// Writes returns the number of write calls that reached the store.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Reads returns the number of read calls that reached the store.
func (m *Memory) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

func (m *Memory) Watchlist() *WatchlistTable { return &WatchlistTable{m} }
func (m *Memory) Reviews() *ReviewsTable     { return &ReviewsTable{m} }
func (m *Memory) Profiles() *ProfilesTable   { return &ProfilesTable{m} }

func pairKey(userID string, movieID int) string { return fmt.Sprintf("%s/%d", userID, movieID) }

// read locks m and counts a read.
func (m *Memory) read() error {
	m.mu.Lock()
	m.reads++
	return m.failWith
}

// write waits for a held gate, then locks m and counts a write.
func (m *Memory) write(ctx context.Context) error {
	m.mu.Lock()
	gate := m.gate
	m.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			m.mu.Lock()
			return ctx.Err()
		}
	}
	m.mu.Lock()
	m.writes++
	return m.failWith
}

// owns reports whether the acting user may write a row of userID. Called with
// m.mu held.
func (m *Memory) owns(ctx context.Context, userID string) error {
	if m.actor == nil {
		return nil
	}
	if id, ok := m.actor(ctx); ok && id == userID {
		return nil
	}
	return &pgconn.PgError{Code: "42501", Message: "permission denied for table reviews"}
}

func (m *Memory) next() (int, time.Time) {
	m.seq++
	return m.seq, time.Unix(int64(1_700_000_000+m.seq), 0).UTC()
}

// WatchlistTable implements backend.WatchlistStore.
type WatchlistTable struct{ m *Memory }

func (t *WatchlistTable) List(_ context.Context, userID string) ([]domain.WatchlistItem, error) {
	m := t.m
	if err := m.read(); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	defer m.mu.Unlock()
	out := []domain.WatchlistItem{}
	for _, item := range m.watchlist {
		if item.UserID == userID {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (t *WatchlistTable) Find(_ context.Context, userID string, movieID int) (domain.WatchlistItem, error) {
	m := t.m
	if err := m.read(); err != nil {
		m.mu.Unlock()
		return domain.WatchlistItem{}, err
	}
	defer m.mu.Unlock()
	item, ok := m.watchlist[pairKey(userID, movieID)]
	if !ok {
		return domain.WatchlistItem{}, pgx.ErrNoRows
	}
	return item, nil
}

func (t *WatchlistTable) Insert(ctx context.Context, userID string, movieID int) (domain.WatchlistItem, error) {
	m := t.m
	if err := m.write(ctx); err != nil {
		m.mu.Unlock()
		return domain.WatchlistItem{}, err
	}
	defer m.mu.Unlock()
	if _, ok := m.watchlist[pairKey(userID, movieID)]; ok {
		return domain.WatchlistItem{}, &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}
	}
	seq, now := m.next()
	item := domain.WatchlistItem{ID: fmt.Sprintf("w%d", seq), UserID: userID, MovieID: movieID, CreatedAt: now}
	m.watchlist[pairKey(userID, movieID)] = item
	return item, nil
}

func (t *WatchlistTable) Delete(ctx context.Context, userID string, movieID int) error {
	m := t.m
	if err := m.write(ctx); err != nil {
		m.mu.Unlock()
		return err
	}
	defer m.mu.Unlock()
	delete(m.watchlist, pairKey(userID, movieID))
	return nil
}

// ReviewsTable implements backend.ReviewStore.
type ReviewsTable struct{ m *Memory }

func (t *ReviewsTable) filter(keep func(domain.Review) bool) ([]domain.Review, error) {
	m := t.m
	if err := m.read(); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	defer m.mu.Unlock()
	out := []domain.Review{}
	for _, r := range m.reviews {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (t *ReviewsTable) ListByMovie(_ context.Context, movieID int) ([]domain.Review, error) {
	return t.filter(func(r domain.Review) bool { return r.MovieID == movieID })
}

func (t *ReviewsTable) ListByUser(_ context.Context, userID string) ([]domain.Review, error) {
	return t.filter(func(r domain.Review) bool { return r.UserID == userID })
}

func (t *ReviewsTable) Find(_ context.Context, userID string, movieID int) (domain.Review, error) {
	m := t.m
	if err := m.read(); err != nil {
		m.mu.Unlock()
		return domain.Review{}, err
	}
	defer m.mu.Unlock()
	r, ok := m.reviews[pairKey(userID, movieID)]
	if !ok {
		return domain.Review{}, pgx.ErrNoRows
	}
	return r, nil
}

func (t *ReviewsTable) Insert(ctx context.Context, userID string, movieID int, in domain.ReviewInput) (domain.Review, error) {
	m := t.m
	if err := m.write(ctx); err != nil {
		m.mu.Unlock()
		return domain.Review{}, err
	}
	defer m.mu.Unlock()
	if _, ok := m.reviews[pairKey(userID, movieID)]; ok {
		return domain.Review{}, &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}
	}
	seq, now := m.next()
	r := domain.Review{ID: fmt.Sprintf("r%d", seq), UserID: userID, MovieID: movieID,
		Rating: in.Rating, Comment: in.Comment, CreatedAt: now, UpdatedAt: now}
	m.reviews[pairKey(userID, movieID)] = r
	return r, nil
}

func (t *ReviewsTable) Update(ctx context.Context, id string, in domain.ReviewInput) (domain.Review, error) {
	m := t.m
	if err := m.write(ctx); err != nil {
		m.mu.Unlock()
		return domain.Review{}, err
	}
	defer m.mu.Unlock()
	for k, r := range m.reviews {
		if r.ID == id {
			if err := m.owns(ctx, r.UserID); err != nil {
				return domain.Review{}, err
			}
			_, now := m.next()
			r.Rating, r.Comment, r.UpdatedAt = in.Rating, in.Comment, now
			m.reviews[k] = r
			return r, nil
		}
	}
	return domain.Review{}, pgx.ErrNoRows
}

func (t *ReviewsTable) Delete(ctx context.Context, id string) error {
	m := t.m
	if err := m.write(ctx); err != nil {
		m.mu.Unlock()
		return err
	}
	defer m.mu.Unlock()
	for k, r := range m.reviews {
		if r.ID == id {
			if err := m.owns(ctx, r.UserID); err != nil {
				return err
			}
			delete(m.reviews, k)
			return nil
		}
	}
	return pgx.ErrNoRows
}

// ProfilesTable implements backend.ProfileStore.
type ProfilesTable struct{ m *Memory }

func (t *ProfilesTable) Get(_ context.Context, userID string) (domain.Profile, error) {
	m := t.m
	if err := m.read(); err != nil {
		m.mu.Unlock()
		return domain.Profile{}, err
	}
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return domain.Profile{}, pgx.ErrNoRows
	}
	return p, nil
}

func (t *ProfilesTable) Upsert(ctx context.Context, userID string, in domain.ProfileInput) (domain.Profile, error) {
	m := t.m
	if err := m.write(ctx); err != nil {
		m.mu.Unlock()
		return domain.Profile{}, err
	}
	defer m.mu.Unlock()
	if in.Username != "" {
		for id, p := range m.profiles {
			if id != userID && p.Username == in.Username {
				return domain.Profile{}, &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}
			}
		}
	}
	_, now := m.next()
	p := m.profiles[userID]
	p.ID, p.Username, p.FullName, p.UpdatedAt = userID, in.Username, in.FullName, now
	m.profiles[userID] = p
	return p, nil
}
