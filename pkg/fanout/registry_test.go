package fanout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-sslteam/internal/log"
)

func newTestRegistry() *Registry[int] {
	return New[int]("test", log.Discard())
}

func recvN(t *testing.T, s *Subscription[int], n int) []int {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		v, err := s.Recv(ctx)
		require.NoError(t, err)
		out = append(out, v)
	}
	return out
}

func TestPublish_FIFOPerSubscriber(t *testing.T) {
	r := newTestRegistry()
	a := r.Subscribe()
	b := r.Subscribe(WithCapacity(100))

	ctx := context.Background()
	for i := 0; i < 50; i++ {
		require.NoError(t, r.Publish(ctx, i))
	}

	want := make([]int, 50)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, recvN(t, a, 50))
	assert.Equal(t, want, recvN(t, b, 50))
}

func TestPublish_DropOldest(t *testing.T) {
	r := newTestRegistry()
	s := r.Subscribe(WithCapacity(3))
	assert.Equal(t, DropOldest, s.Policy())

	for i := 1; i <= 5; i++ {
		require.NoError(t, r.Publish(context.Background(), i))
	}
	assert.Equal(t, []int{3, 4, 5}, recvN(t, s, 3))

	st := s.Stats()
	assert.Equal(t, uint64(5), st.Delivered)
	assert.Equal(t, uint64(2), st.Dropped)
	assert.Equal(t, 0, st.Queued)
}

func TestPublish_DropNewest(t *testing.T) {
	r := newTestRegistry()
	s := r.Subscribe(WithCapacity(2), WithPolicy(DropNewest))

	for i := 1; i <= 4; i++ {
		require.NoError(t, r.Publish(context.Background(), i))
	}
	assert.Equal(t, []int{1, 2}, recvN(t, s, 2))
	assert.Equal(t, uint64(2), s.Stats().Dropped)
}

func TestPublish_BlockKeepsEveryValue(t *testing.T) {
	r := newTestRegistry()
	s := r.Subscribe(WithCapacity(1), WithPolicy(Block))

	for i := 1; i <= 3; i++ {
		require.NoError(t, r.Publish(context.Background(), i))
	}
	st := s.Stats()
	assert.Equal(t, 1, st.Queued)
	assert.Equal(t, 2, st.Pending)
	assert.Zero(t, st.Dropped)
	assert.Equal(t, uint64(3), st.Delivered)

	assert.Equal(t, []int{1, 2, 3}, recvN(t, s, 3))
	assert.Zero(t, s.Stats().Pending)
}

func TestPublish_FullBlockSubscriberDoesNotStallOthers(t *testing.T) {
	r := newTestRegistry()
	stuck := r.Subscribe(WithCapacity(1), WithPolicy(Block))
	fast := r.Subscribe(WithCapacity(8), WithPolicy(DropOldest))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, r.Publish(ctx, i))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, 3, fast.Len())
	assert.Equal(t, []int{0, 1, 2}, recvN(t, fast, 3))

	st := stuck.Stats()
	assert.Equal(t, 1, st.Queued)
	assert.Equal(t, 2, st.Pending)
}

func TestPublish_CancelledContextDeliversNothing(t *testing.T) {
	r := newTestRegistry()
	s := r.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, r.Publish(ctx, 1), context.Canceled)
	assert.Zero(t, s.Len())
	assert.Equal(t, 1, r.Len())
}

func TestClose_DrainsBlockBacklog(t *testing.T) {
	r := newTestRegistry()
	s := r.Subscribe(WithCapacity(1), WithPolicy(Block))
	for i := 0; i < 3; i++ {
		require.NoError(t, r.Publish(context.Background(), i))
	}
	r.Close()

	assert.Equal(t, []int{0, 1, 2}, recvN(t, s, 3))
	_, err := s.Recv(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPublish_RemovesClosedSubscriber(t *testing.T) {
	r := newTestRegistry()
	live := r.Subscribe()
	dead := r.Subscribe()
	require.Equal(t, 2, r.Len())

	dead.Close()
	require.NoError(t, r.Publish(context.Background(), 7))

	assert.Equal(t, 1, r.Len())
	assert.Equal(t, []int{7}, recvN(t, live, 1))

	require.NoError(t, r.Publish(context.Background(), 8))
	assert.Equal(t, 1, r.Len(), "closed subscriber is never re-added")
}

func TestPublish_ClosedBlockSubscriberRemoved(t *testing.T) {
	r := newTestRegistry()
	blocked := r.Subscribe(WithCapacity(1), WithPolicy(Block))
	fast := r.Subscribe()
	require.NoError(t, r.Publish(context.Background(), 0))
	require.NoError(t, r.Publish(context.Background(), 1))

	blocked.Close()
	require.NoError(t, r.Publish(context.Background(), 2))

	assert.Equal(t, []int{0, 1, 2}, recvN(t, fast, 3))
	assert.Equal(t, 1, r.Len())
}

func TestUnsubscribe(t *testing.T) {
	r := newTestRegistry()
	s := r.Subscribe()

	assert.True(t, r.Unsubscribe(s.ID()))
	assert.False(t, r.Unsubscribe(s.ID()))
	assert.Equal(t, 0, r.Len())

	_, err := s.Recv(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestClose_DrainsThenErrClosed(t *testing.T) {
	r := newTestRegistry()
	s := r.Subscribe()
	require.NoError(t, r.Publish(context.Background(), 1))
	r.Close()

	assert.Equal(t, []int{1}, recvN(t, s, 1))
	_, err := s.Recv(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	assert.ErrorIs(t, r.Publish(context.Background(), 2), ErrClosed)

	late := r.Subscribe()
	_, err = late.Recv(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRecv_Cancelled(t *testing.T) {
	r := newTestRegistry()
	s := r.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Recv(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	_, ok := s.TryRecv()
	assert.False(t, ok)
}

func TestPublish_Concurrent(t *testing.T) {
	r := newTestRegistry()
	s := r.Subscribe()

	const publishers, each = 8, 100
	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				_ = r.Publish(context.Background(), i)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, publishers*each, s.Len())
	assert.Equal(t, uint64(publishers*each), s.Stats().Delivered)
}

func TestParsePolicy(t *testing.T) {
	for _, p := range []Policy{DropOldest, DropNewest, Block} {
		got, err := ParsePolicy(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	_, err := ParsePolicy("sometimes")
	assert.Error(t, err)
}
