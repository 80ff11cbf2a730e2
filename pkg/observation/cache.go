// Package observation keeps the latest detection frame per camera and hands
// each one out at most once.
package observation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-sslteam/internal/log"
	"github.com/teslashibe/go-sslteam/pkg/fanout"
	"github.com/teslashibe/go-sslteam/pkg/ssl"
)

// Stats counts cache updates. Counters never decrease.
type Stats struct {
	NumUpdates     uint64
	LastUpdateTime time.Time
}

// Cache maps camera id to the most recent detection frame.
type Cache struct {
	log *slog.Logger
	now func() time.Time

	mu     sync.Mutex
	frames map[uint32]ssl.DetectionFrame
	stats  Stats
}

// NewCache returns an empty cache.
func NewCache(logger *slog.Logger) *Cache {
	return &Cache{
		log:    log.Or(logger, "observation"),
		now:    time.Now,
		frames: make(map[uint32]ssl.DetectionFrame),
	}
}

// Update replaces the slot for f.CameraID with a copy of f.
func (c *Cache) Update(f ssl.DetectionFrame) {
	f = f.Clone()
	c.mu.Lock()
	c.frames[f.CameraID] = f
	c.stats.NumUpdates++
	c.stats.LastUpdateTime = c.now()
	c.mu.Unlock()
}

// CloneAndClear returns every cached frame and empties the cache in one step.
// A camera with no update since the previous call is absent from the result.
func (c *Cache) CloneAndClear() map[uint32]ssl.DetectionFrame {
	c.mu.Lock()
	out := c.frames
	c.frames = make(map[uint32]ssl.DetectionFrame, len(out))
	c.mu.Unlock()
	return out
}

// Statistics returns a snapshot of the update counters.
func (c *Cache) Statistics() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Run feeds the cache from src until ctx is cancelled or src closes.
func (c *Cache) Run(ctx context.Context, src fanout.Source[ssl.DetectionFrame]) error {
	for {
		f, err := src.Recv(ctx)
		if err != nil {
			if errors.Is(err, fanout.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		c.Update(f)
		c.log.Debug("cached frame", "camera", f.CameraID, "frame", f.FrameNumber)
	}
}
