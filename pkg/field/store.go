// Package field holds the field geometry shared by the tracker and the
// visualizer API.
package field

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-sslteam/internal/log"
	"github.com/teslashibe/go-sslteam/pkg/fanout"
	"github.com/teslashibe/go-sslteam/pkg/ssl"
)

// ErrInvalidDimension reports a non-positive field dimension.
var ErrInvalidDimension = errors.New("field: invalid dimension")

// Source says where the stored geometry came from.
type Source string

const (
	SourceNone   Source = ""
	SourceVision Source = "vision"
	SourceManual Source = "manual"
)

// DivisionB is the standard division B field.
func DivisionB() ssl.GeometryFieldSize {
	return ssl.GeometryFieldSize{
		FieldLength:   9000,
		FieldWidth:    6000,
		GoalWidth:     1000,
		GoalDepth:     180,
		BoundaryWidth: 300,
	}
}

// Validate checks that the field, goal and boundary sizes are usable.
func Validate(g ssl.GeometryFieldSize) error {
	for _, d := range []struct {
		name string
		v    int32
	}{
		{"field length", g.FieldLength},
		{"field width", g.FieldWidth},
		{"goal width", g.GoalWidth},
		{"goal depth", g.GoalDepth},
	} {
		if d.v <= 0 {
			return fmt.Errorf("%w: %s must be > 0, got %d", ErrInvalidDimension, d.name, d.v)
		}
	}
	if g.BoundaryWidth < 0 {
		return fmt.Errorf("%w: boundary width must be >= 0, got %d", ErrInvalidDimension, g.BoundaryWidth)
	}
	return nil
}

// Info describes the stored geometry.
type Info struct {
	Source  Source
	Updated time.Time
}

// Store is the latest field geometry. Geometry set by hand pins the store so
// vision updates are ignored until Unpin. Safe for concurrent use.
type Store struct {
	log *slog.Logger
	now func() time.Time

	mu   sync.RWMutex
	geo  ssl.GeometryFieldSize
	info Info
}

// NewStore creates an empty store.
func NewStore(logger *slog.Logger) *Store {
	return &Store{log: log.Or(logger, "field"), now: time.Now}
}

// Get returns a copy of the geometry and whether any has been stored.
func (s *Store) Get() (ssl.GeometryFieldSize, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.info.Source == SourceNone {
		return ssl.GeometryFieldSize{}, false
	}
	return s.geo.Clone(), true
}

// Info returns where the geometry came from and when.
func (s *Store) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

// Set stores g and pins it.
func (s *Store) Set(g ssl.GeometryFieldSize) error {
	if err := Validate(g); err != nil {
		return err
	}
	s.store(g, SourceManual)
	s.log.Info("field geometry set", "length", g.FieldLength, "width", g.FieldWidth)
	return nil
}

// Unpin lets vision geometry replace the stored value again.
func (s *Store) Unpin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.info.Source == SourceManual {
		s.info.Source = SourceVision
	}
}

func (s *Store) store(g ssl.GeometryFieldSize, src Source) {
	g = g.Clone()
	s.mu.Lock()
	s.geo = g
	s.info = Info{Source: src, Updated: s.now()}
	s.mu.Unlock()
}

// observe applies a vision frame unless the store is pinned. It reports
// whether the frame was applied.
func (s *Store) observe(f ssl.GeometryFrame) bool {
	if err := Validate(f.Field); err != nil {
		s.log.Warn("ignoring vision geometry", "error", err)
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.info.Source == SourceManual {
		return false
	}
	s.geo = f.Field.Clone()
	s.info = Info{Source: SourceVision, Updated: s.now()}
	return true
}

// Run stores geometry frames from src until ctx is cancelled or src closes.
func (s *Store) Run(ctx context.Context, src fanout.Source[ssl.GeometryFrame]) error {
	for {
		f, err := src.Recv(ctx)
		if err != nil {
			if errors.Is(err, fanout.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if s.observe(f) {
			s.log.Debug("field geometry from vision", "length", f.Field.FieldLength, "width", f.Field.FieldWidth)
		}
	}
}
