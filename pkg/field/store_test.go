package field

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-sslteam/internal/log"
	"github.com/teslashibe/go-sslteam/pkg/fanout"
	"github.com/teslashibe/go-sslteam/pkg/ssl"
)

func TestStore_Empty(t *testing.T) {
	s := NewStore(log.Discard())
	_, ok := s.Get()
	assert.False(t, ok)
	assert.Equal(t, SourceNone, s.Info().Source)
}

func TestStore_SetGet(t *testing.T) {
	s := NewStore(log.Discard())
	g := DivisionB()
	g.FieldLines = []ssl.FieldLineSegment{{Name: "TopTouchLine", P2: ssl.Vector2{X: 4500}}}
	require.NoError(t, s.Set(g))

	got, ok := s.Get()
	require.True(t, ok)
	assert.Equal(t, g, got)

	got.FieldLines[0].Name = "changed"
	again, _ := s.Get()
	assert.Equal(t, "TopTouchLine", again.FieldLines[0].Name, "Get returns a copy")
	assert.Equal(t, SourceManual, s.Info().Source)
}

func TestStore_SetRejectsInvalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ssl.GeometryFieldSize)
	}{
		{"zero length", func(g *ssl.GeometryFieldSize) { g.FieldLength = 0 }},
		{"negative width", func(g *ssl.GeometryFieldSize) { g.FieldWidth = -1 }},
		{"zero goal width", func(g *ssl.GeometryFieldSize) { g.GoalWidth = 0 }},
		{"zero goal depth", func(g *ssl.GeometryFieldSize) { g.GoalDepth = 0 }},
		{"negative boundary", func(g *ssl.GeometryFieldSize) { g.BoundaryWidth = -10 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore(log.Discard())
			g := DivisionB()
			tt.mutate(&g)
			assert.ErrorIs(t, s.Set(g), ErrInvalidDimension)
			_, ok := s.Get()
			assert.False(t, ok)
		})
	}
}

func TestStore_RunFollowsVisionUntilPinned(t *testing.T) {
	s := NewStore(log.Discard())
	reg := fanout.New[ssl.GeometryFrame]("geometry", log.Discard())
	sub := reg.Subscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, sub) }()

	vision := DivisionB()
	vision.FieldLength = 12000
	require.NoError(t, reg.Publish(ctx, ssl.GeometryFrame{Field: vision}))
	require.Eventually(t, func() bool {
		g, ok := s.Get()
		return ok && g.FieldLength == 12000
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, SourceVision, s.Info().Source)

	require.NoError(t, s.Set(DivisionB()))
	vision.FieldLength = 13000
	require.NoError(t, reg.Publish(ctx, ssl.GeometryFrame{Field: vision}))

	s.Unpin()
	vision.FieldLength = 14000
	require.NoError(t, reg.Publish(ctx, ssl.GeometryFrame{Field: vision}))
	require.Eventually(t, func() bool {
		g, _ := s.Get()
		return g.FieldLength == 14000
	}, time.Second, 5*time.Millisecond)

	reg.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the source closed")
	}
}

func TestStore_RunIgnoresInvalidVisionGeometry(t *testing.T) {
	s := NewStore(log.Discard())
	assert.False(t, s.observe(ssl.GeometryFrame{}))
	_, ok := s.Get()
	assert.False(t, ok)
}

func TestStore_PinnedIgnoresVision(t *testing.T) {
	s := NewStore(log.Discard())
	require.NoError(t, s.Set(DivisionB()))

	other := DivisionB()
	other.FieldWidth = 4000
	assert.False(t, s.observe(ssl.GeometryFrame{Field: other}))
	g, _ := s.Get()
	assert.Equal(t, int32(6000), g.FieldWidth)

	s.Unpin()
	assert.True(t, s.observe(ssl.GeometryFrame{Field: other}))
	g, _ = s.Get()
	assert.Equal(t, int32(4000), g.FieldWidth)
}
