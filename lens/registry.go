// Copyright © 2024 The ELPS authors

package lens

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Handle is the one-shot resolution slot of a subscription. It resolves at
// most once, either with the matching snapshot or with the error the
// predicate reported.
type Handle struct {
	id   uuid.UUID
	pred Predicate
	done chan struct{}

	// Written once before done is closed.
	snapshot Snapshot
	err      error
}

// ID identifies the subscription in logs.
func (h *Handle) ID() uuid.UUID { return h.id }

// Predicate returns the predicate the subscription waits on.
func (h *Handle) Predicate() Predicate { return h.pred }

// Done is closed once the handle resolves.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Result returns the resolution. It must only be called after Done is
// closed; before that it returns (nil, nil).
func (h *Handle) Result() (Snapshot, error) {
	select {
	case <-h.done:
		return h.snapshot, h.err
	default:
		return nil, nil
	}
}

// Wait blocks until the handle resolves or ctx is done.
func (h *Handle) Wait(ctx context.Context) (Snapshot, error) {
	select {
	case <-h.done:
		return h.snapshot, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Handle) resolve(s Snapshot, err error) {
	h.snapshot = s
	h.err = err
	close(h.done)
}

// Registry holds the active subscriptions. Registration, delivery and
// removal all happen under one lock, so a snapshot is never evaluated
// against a half-updated set of subscriptions.
type Registry struct {
	mu   sync.Mutex
	subs []*Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Subscribe registers p and returns its handle. It is safe to call while
// snapshots are being delivered.
func (r *Registry) Subscribe(p Predicate) *Handle {
	h := &Handle{
		id:   uuid.New(),
		pred: p,
		done: make(chan struct{}),
	}
	r.mu.Lock()
	r.subs = append(r.subs, h)
	r.mu.Unlock()
	log.Debugf("subscription %s registered: %s", h.id, p)
	return h
}

// OnSnapshot evaluates every registered predicate against s exactly once.
// Subscriptions whose predicate matches resolve with s; those whose
// predicate reports an error resolve with that error. Both are removed.
func (r *Registry) OnSnapshot(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.subs[:0]
	for _, h := range r.subs {
		ok, err := match(h.pred, s)
		switch {
		case err != nil:
			log.Debugf("subscription %s failed: %v", h.id, err)
			h.resolve(nil, err)
		case ok:
			log.Debugf("subscription %s matched %s", h.id, s)
			h.resolve(s, nil)
		default:
			kept = append(kept, h)
		}
	}
	for i := len(kept); i < len(r.subs); i++ {
		r.subs[i] = nil
	}
	r.subs = kept
}

// Deliver adapts OnSnapshot to a Channel subscriber.
func (r *Registry) Deliver(_ string, s Snapshot) {
	r.OnSnapshot(s)
}

// Remove drops h without resolving it. It reports whether h was still
// registered.
func (r *Registry) Remove(h *Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, sub := range r.subs {
		if sub == h {
			r.subs = append(r.subs[:i:i], r.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of unresolved subscriptions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// match runs p, turning a panic into a failure of that subscription only.
func match(p Predicate, s Snapshot) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("predicate %s panicked: %v", p, r)
		}
	}()
	return p.Match(s)
}
