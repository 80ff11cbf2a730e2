package fanout

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Policy decides what happens when a bounded subscription is full.
type Policy int

const (
	// DropOldest evicts the oldest queued value to make room.
	DropOldest Policy = iota
	// DropNewest discards the value being published.
	DropNewest
	// Block never loses a value. Values that do not fit wait in the
	// subscription's backlog and move into the queue, in order, as the
	// consumer makes room. The publisher never waits; a consumer that stops
	// reading grows its backlog, reported as Stats.Pending.
	Block
)

func (p Policy) String() string {
	switch p {
	case DropOldest:
		return "drop-oldest"
	case DropNewest:
		return "drop-newest"
	case Block:
		return "block"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy converts a policy name as printed by Policy.String.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "drop-oldest", "dropoldest", "":
		return DropOldest, nil
	case "drop-newest", "dropnewest":
		return DropNewest, nil
	case "block":
		return Block, nil
	}
	return 0, fmt.Errorf("fanout: unknown policy %q", s)
}

type options struct {
	capacity int
	policy   Policy
}

// Option configures a subscription.
type Option func(*options)

// WithCapacity bounds the subscription queue. Zero means unbounded.
func WithCapacity(n int) Option {
	return func(o *options) {
		if n < 0 {
			n = 0
		}
		o.capacity = n
	}
}

// WithPolicy sets the backpressure policy of a bounded subscription.
func WithPolicy(p Policy) Option {
	return func(o *options) { o.policy = p }
}

// Stats is a snapshot of subscription counters.
type Stats struct {
	Delivered uint64
	Dropped   uint64
	Queued    int
	Pending   int // Block backlog not yet in the queue
}

// Subscription is one consumer's FIFO view of a Registry.
type Subscription[T any] struct {
	id       uuid.UUID
	capacity int
	policy   Policy

	mu        sync.Mutex
	queue     []T
	backlog   []T // Block only
	closed    bool
	delivered uint64
	dropped   uint64

	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newSubscription[T any](o options) *Subscription[T] {
	return &Subscription[T]{
		id:       uuid.New(),
		capacity: o.capacity,
		policy:   o.policy,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// ID returns the identity handle used by Registry.Unsubscribe.
func (s *Subscription[T]) ID() uuid.UUID { return s.id }

// Capacity returns the queue bound, zero when unbounded.
func (s *Subscription[T]) Capacity() int { return s.capacity }

// Policy returns the backpressure policy.
func (s *Subscription[T]) Policy() Policy { return s.policy }

// Done is closed once the subscription is closed.
func (s *Subscription[T]) Done() <-chan struct{} { return s.done }

func signal(c chan struct{}) {
	select {
	case c <- struct{}{}:
	default:
	}
}

// deliver enqueues v according to the policy without waiting. It returns
// ErrClosed once the subscription is closed.
func (s *Subscription[T]) deliver(v T) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	switch {
	case s.capacity == 0 || (len(s.queue) < s.capacity && len(s.backlog) == 0):
		s.queue = append(s.queue, v)
		s.delivered++
	case s.policy == Block:
		s.backlog = append(s.backlog, v)
		s.delivered++
		s.mu.Unlock()
		return nil
	case s.policy == DropNewest:
		s.dropped++
		s.mu.Unlock()
		return nil
	default: // DropOldest
		var zero T
		s.queue[0] = zero
		s.queue = append(s.queue[1:], v)
		s.dropped++
		s.delivered++
	}
	s.mu.Unlock()
	signal(s.notify)
	return nil
}

// TryRecv returns the next queued value without blocking.
func (s *Subscription[T]) TryRecv() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pop()
}

// pop must be called with mu held.
func (s *Subscription[T]) pop() (T, bool) {
	var zero T
	if len(s.queue) == 0 {
		return zero, false
	}
	v := s.queue[0]
	s.queue[0] = zero
	s.queue = s.queue[1:]
	if len(s.backlog) > 0 {
		s.queue = append(s.queue, s.backlog[0])
		s.backlog[0] = zero
		s.backlog = s.backlog[1:]
	}
	if len(s.queue) > 0 {
		signal(s.notify)
	}
	return v, true
}

// Recv blocks until a value is available. Values queued or backlogged
// before Close are still returned; after that Recv returns ErrClosed.
func (s *Subscription[T]) Recv(ctx context.Context) (T, error) {
	for {
		s.mu.Lock()
		v, ok := s.pop()
		closed := s.closed
		s.mu.Unlock()
		if ok {
			return v, nil
		}
		if closed {
			var zero T
			return zero, ErrClosed
		}

		select {
		case <-s.notify:
		case <-s.done:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Len returns the number of queued values.
func (s *Subscription[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Stats returns a snapshot of the subscription counters.
func (s *Subscription[T]) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Delivered: s.delivered, Dropped: s.dropped, Queued: len(s.queue), Pending: len(s.backlog)}
}

// Close stops delivery. The registry drops the subscription on its next
// publish.
func (s *Subscription[T]) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
	})
}
