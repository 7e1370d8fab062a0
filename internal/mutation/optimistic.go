package mutation

import "sync"

// Optimistic is a locally displayed value that a mutation updates before the
// backend confirms it. Pending is true while the mutation is in flight.
type Optimistic[T any] struct {
	mu      sync.RWMutex
	value   T
	pending bool
}

func NewOptimistic[T any](v T) *Optimistic[T] {
	return &Optimistic[T]{value: v}
}

func (o *Optimistic[T]) Value() T {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.value
}

// Set replaces the value, e.g. after a cache read.
func (o *Optimistic[T]) Set(v T) {
	o.mu.Lock()
	o.value = v
	o.mu.Unlock()
}

func (o *Optimistic[T]) Pending() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.pending
}

// begin stores next and returns the value it replaced. A nil receiver is a
// mutation without local state.
func (o *Optimistic[T]) begin(next T) (prev T) {
	if o == nil {
		return prev
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	prev = o.value
	o.value = next
	o.pending = true
	return prev
}

// settle ends the pending phase. With rollback the pre-mutation value comes
// back, otherwise confirmed replaces the optimistic value.
func (o *Optimistic[T]) settle(confirmed T, rollback bool, prev T) {
	if o == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if rollback {
		o.value = prev
	} else {
		o.value = confirmed
	}
	o.pending = false
}
