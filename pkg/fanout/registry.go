// Package fanout distributes published values to a dynamic set of
// subscribers.
//
// Each subscriber owns a FIFO queue, so values are observed in publish order
// per subscriber. Publish never waits on a subscriber: the drop policies
// evict or discard when full, Block subscribers keep the overflow in their
// own backlog, and closed subscribers are removed after the publish that
// found them closed.
package fanout

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/teslashibe/go-sslteam/internal/log"
)

// ErrClosed reports a closed subscription or registry.
var ErrClosed = errors.New("fanout: closed")

// Source is the consuming side of a subscription.
type Source[T any] interface {
	Recv(ctx context.Context) (T, error)
}

// Registry fans values of type T out to its subscriptions.
type Registry[T any] struct {
	name string
	log  *slog.Logger

	pubMu sync.Mutex // serialises Publish so per-subscriber order holds

	mu     sync.Mutex
	subs   map[uuid.UUID]*Subscription[T]
	closed bool
}

// New creates an empty registry. name tags log records.
func New[T any](name string, logger *slog.Logger) *Registry[T] {
	return &Registry[T]{
		name: name,
		log:  log.Or(logger, "fanout").With("registry", name),
		subs: make(map[uuid.UUID]*Subscription[T]),
	}
}

// Subscribe registers a new subscription. Without options it is unbounded.
// Subscribing to a closed registry returns a closed subscription.
func (r *Registry[T]) Subscribe(opts ...Option) *Subscription[T] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	s := newSubscription[T](o)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		s.Close()
		return s
	}
	r.subs[s.id] = s
	r.log.Debug("subscribed", "id", s.id, "capacity", o.capacity, "policy", o.policy)
	return s
}

// Unsubscribe removes and closes the subscription with the given id.
// It reports whether the subscription was registered.
func (r *Registry[T]) Unsubscribe(id uuid.UUID) bool {
	r.mu.Lock()
	s, ok := r.subs[id]
	delete(r.subs, id)
	r.mu.Unlock()
	if ok {
		s.Close()
	}
	return ok
}

// Len returns the number of registered subscriptions.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Publish hands v to every current subscription. It does not wait for any
// consumer. Subscriptions found closed are removed. The error is ErrClosed
// after Close, or the context error if ctx is already done, in which case
// nothing is delivered.
func (r *Registry[T]) Publish(ctx context.Context, v T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.pubMu.Lock()
	defer r.pubMu.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	subs := make([]*Subscription[T], 0, len(r.subs))
	for _, s := range r.subs {
		subs = append(subs, s)
	}
	r.mu.Unlock()

	var gone []uuid.UUID
	for _, s := range subs {
		if err := s.deliver(v); errors.Is(err, ErrClosed) {
			gone = append(gone, s.id)
		}
	}

	if len(gone) > 0 {
		r.mu.Lock()
		for _, id := range gone {
			delete(r.subs, id)
		}
		n := len(r.subs)
		r.mu.Unlock()
		r.log.Debug("removed closed subscribers", "removed", len(gone), "remaining", n)
	}
	return nil
}

// Close closes every subscription and rejects further publishes.
func (r *Registry[T]) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	subs := r.subs
	r.subs = make(map[uuid.UUID]*Subscription[T])
	r.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}
