// Package querycache is a keyed, request-collapsing cache for remote reads.
//
// A read of a fresh entry returns immediately. A read of a stale entry
// returns the stale value and starts one background refetch. A read with
// nothing usable waits for the single in-flight fetch of that key. Failures
// are cached like values until they go stale or are invalidated.
package querycache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jonboulle/clockwork"
	"github.com/sourcegraph/conc"
	"golang.org/x/sync/singleflight"

	"github.com/Clark-Hu/cinelist/internal/logging"
)

// Status is the lifecycle state of an entry.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "idle"
	}
}

// Fetcher loads the value of one key.
type Fetcher func(ctx context.Context) (any, error)

// Snapshot is a point-in-time copy of an entry.
type Snapshot struct {
	Key         Key
	Value       any
	HasValue    bool
	Err         error
	Status      Status
	UpdatedAt   time.Time
	Stale       bool
	Fetching    bool
	Subscribers int
}

// Options configure a Cache.
type Options struct {
	Policy Policy
	Clock  clockwork.Clock
	Logger *log.Logger
}

// Cache holds entries keyed by Key.String(). It is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	group   singleflight.Group
	bg      conc.WaitGroup
	clock   clockwork.Clock
	policy  Policy
	logger  *log.Logger
}

type entry struct {
	key         Key
	value       any
	hasValue    bool
	err         error
	status      Status
	updatedAt   time.Time
	lastAccess  time.Time
	invalidated bool
	fetching    bool
	// gen increments on every invalidation; results of older fetches are dropped.
	gen     uint64
	fetcher Fetcher
	subs    map[uint64]func(Snapshot)
	nextSub uint64
}

// New creates an empty cache.
func New(opts Options) *Cache {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Cache{
		entries: make(map[string]*entry),
		clock:   clock,
		policy:  opts.Policy,
		logger:  logging.Component(opts.Logger, "querycache"),
	}
}

// Policy returns the staleness policy in use.
func (c *Cache) Policy() Policy { return c.policy }

// Read returns the value for key, fetching it with fetch when needed.
//
// ctx only bounds how long this caller waits; the shared fetch is detached
// from it and its result is stored even if every waiter gave up.
func (c *Cache) Read(ctx context.Context, key Key, fetch Fetcher) (any, error) {
	if fetch == nil {
		return nil, errors.New("querycache: nil fetcher")
	}

	c.mu.Lock()
	now := c.clock.Now()
	e := c.entryLocked(key, now)
	e.fetcher = fetch
	e.lastAccess = now

	stale := c.staleLocked(e, now)
	switch {
	case !stale && e.status == StatusError:
		err := e.err
		c.mu.Unlock()
		return nil, err
	case !stale && e.hasValue:
		v := e.value
		c.mu.Unlock()
		return v, nil
	case e.hasValue && e.status == StatusSuccess:
		v := e.value
		if !e.fetching {
			c.logger.Debug("serving stale, revalidating", "key", key)
			ch := c.launchLocked(e, context.Background())
			c.bg.Go(func() { <-ch })
		}
		c.mu.Unlock()
		return v, nil
	}

	ch := c.launchLocked(e, ctx)
	c.mu.Unlock()

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get is the typed form of Read.
func Get[T any](ctx context.Context, c *Cache, key Key, fetch func(ctx context.Context) (T, error)) (T, error) {
	v, err := c.Read(ctx, key, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	})
	var zero T
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("querycache: %s holds %T, not %T", key, v, zero)
	}
	return typed, nil
}

// Invalidate marks every entry under prefix stale and refetches, in the
// background, every one that has been read before, subscribed or not. Reads
// here are one-shot calls rather than mounted views, so a subscription is not
// a usable signal of interest; entries nobody reads again are left to Sweep.
// It returns the number of entries marked.
func (c *Cache) Invalidate(prefix Key) int {
	n, _ := c.invalidate(prefix)
	return n
}

// Refresh invalidates like Invalidate and waits for the refetches it started,
// or for ctx. Fetch failures are cached, not returned.
func (c *Cache) Refresh(ctx context.Context, prefix Key) error {
	_, pending := c.invalidate(prefix)
	for _, ch := range pending {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (c *Cache) invalidate(prefix Key) (int, []<-chan singleflight.Result) {
	c.mu.Lock()
	var (
		n       int
		pending []<-chan singleflight.Result
		notes   []notification
	)
	for _, e := range c.entries {
		if !e.key.HasPrefix(prefix) {
			continue
		}
		n++
		e.invalidated = true
		e.gen++
		e.fetching = false
		if e.fetcher != nil {
			ch := c.launchLocked(e, context.Background())
			done := make(chan singleflight.Result, 1)
			c.bg.Go(func() { done <- <-ch })
			pending = append(pending, done)
		}
		notes = append(notes, c.notificationLocked(e))
	}
	c.mu.Unlock()

	if n > 0 {
		c.logger.Debug("invalidated", "prefix", prefix, "entries", n)
	}
	deliver(notes)
	return n, pending
}

// Purge drops every entry under prefix. Subscribers stay registered on a
// fresh idle entry so they see later reads.
func (c *Cache) Purge(prefix Key) int {
	c.mu.Lock()
	var notes []notification
	n := 0
	now := c.clock.Now()
	for k, e := range c.entries {
		if !e.key.HasPrefix(prefix) {
			continue
		}
		n++
		delete(c.entries, k)
		if len(e.subs) > 0 {
			fresh := c.entryLocked(e.key, now)
			fresh.subs = e.subs
			fresh.nextSub = e.nextSub
			notes = append(notes, c.notificationLocked(fresh))
		}
	}
	c.mu.Unlock()
	deliver(notes)
	return n
}

// Subscribe registers fn for changes of key. The returned function removes
// the subscription and is safe to call more than once.
func (c *Cache) Subscribe(key Key, fn func(Snapshot)) (unsubscribe func()) {
	c.mu.Lock()
	e := c.entryLocked(key, c.clock.Now())
	if e.subs == nil {
		e.subs = make(map[uint64]func(Snapshot))
	}
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if cur, ok := c.entries[key.String()]; ok {
				delete(cur.subs, id)
				cur.lastAccess = c.clock.Now()
			}
		})
	}
}

// Peek returns the current state of key without fetching.
func (c *Cache) Peek(key Key) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.String()]
	if !ok {
		return Snapshot{}, false
	}
	return c.snapshotLocked(e, c.clock.Now()), true
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep evicts entries without subscribers whose last read is older than
// the policy's GCTime.
func (c *Cache) Sweep() int {
	if c.policy.GCTime <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	n := 0
	for k, e := range c.entries {
		if len(e.subs) > 0 || e.fetching {
			continue
		}
		if now.Sub(e.lastAccess) >= c.policy.GCTime {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// RunJanitor calls Sweep every interval until ctx is done.
func (c *Cache) RunJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := c.clock.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if n := c.Sweep(); n > 0 {
				c.logger.Debug("evicted idle entries", "count", n)
			}
		}
	}
}

// Wait blocks until background refetches have finished.
func (c *Cache) Wait() {
	c.bg.Wait()
}

func (c *Cache) entryLocked(key Key, now time.Time) *entry {
	k := key.String()
	e, ok := c.entries[k]
	if !ok {
		e = &entry{key: key, status: StatusIdle, lastAccess: now}
		c.entries[k] = e
	}
	return e
}

func (c *Cache) staleLocked(e *entry, now time.Time) bool {
	if e.invalidated || e.status == StatusIdle || e.status == StatusLoading {
		return true
	}
	return now.Sub(e.updatedAt) >= c.policy.StaleTime(e.key.Resource)
}

// launchLocked starts (or joins) the fetch of e's current generation.
func (c *Cache) launchLocked(e *entry, parent context.Context) <-chan singleflight.Result {
	gen := e.gen
	fetch := e.fetcher
	e.fetching = true
	if !e.hasValue && e.status != StatusError {
		e.status = StatusLoading
	}
	flightKey := fmt.Sprintf("%s#%d", e.key.String(), gen)
	return c.group.DoChan(flightKey, func() (any, error) {
		ctx := context.WithoutCancel(parent)
		if c.policy.FetchTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.policy.FetchTimeout)
			defer cancel()
		}
		v, err := fetch(ctx)
		c.settle(e, gen, v, err)
		return v, err
	})
}

func (c *Cache) settle(e *entry, gen uint64, v any, err error) {
	c.mu.Lock()
	if c.entries[e.key.String()] != e || e.gen != gen {
		c.mu.Unlock()
		return
	}
	e.fetching = false
	e.invalidated = false
	e.updatedAt = c.clock.Now()
	if err != nil {
		e.err = err
		e.status = StatusError
		c.logger.Debug("fetch failed", "key", e.key, "err", err)
	} else {
		e.value = v
		e.hasValue = true
		e.err = nil
		e.status = StatusSuccess
	}
	note := c.notificationLocked(e)
	c.mu.Unlock()
	deliver([]notification{note})
}

func (c *Cache) snapshotLocked(e *entry, now time.Time) Snapshot {
	return Snapshot{
		Key:         e.key,
		Value:       e.value,
		HasValue:    e.hasValue,
		Err:         e.err,
		Status:      e.status,
		UpdatedAt:   e.updatedAt,
		Stale:       c.staleLocked(e, now),
		Fetching:    e.fetching,
		Subscribers: len(e.subs),
	}
}

type notification struct {
	snap Snapshot
	fns  []func(Snapshot)
}

func (c *Cache) notificationLocked(e *entry) notification {
	fns := make([]func(Snapshot), 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	return notification{snap: c.snapshotLocked(e, c.clock.Now()), fns: fns}
}

func deliver(notes []notification) {
	for _, n := range notes {
		for _, fn := range n.fns {
			fn(n.snap)
		}
	}
}
