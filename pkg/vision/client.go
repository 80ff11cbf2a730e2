package vision

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/teslashibe/go-sslteam/internal/log"
	"github.com/teslashibe/go-sslteam/pkg/fanout"
	"github.com/teslashibe/go-sslteam/pkg/ssl"
)

// ClientStats counts datagrams seen by the receive loop.
type ClientStats struct {
	Packets    uint64
	Detections uint64
	Geometry   uint64
	Malformed  uint64
}

// Client runs the receive loop and publishes detection and geometry frames
// to separate registries.
type Client struct {
	recv       *Receiver
	detections *fanout.Registry[ssl.DetectionFrame]
	geometry   *fanout.Registry[ssl.GeometryFrame]
	log        *slog.Logger

	packets, dets, geos, malformed atomic.Uint64
}

// NewClient takes ownership of r.
func NewClient(r *Receiver, logger *slog.Logger) *Client {
	l := log.Or(logger, "vision")
	return &Client{
		recv:       r,
		detections: fanout.New[ssl.DetectionFrame]("detection", l),
		geometry:   fanout.New[ssl.GeometryFrame]("geometry", l),
		log:        l,
	}
}

// SubscribeDetections returns a new detection stream.
func (c *Client) SubscribeDetections(opts ...fanout.Option) *fanout.Subscription[ssl.DetectionFrame] {
	return c.detections.Subscribe(opts...)
}

// SubscribeGeometry returns a new geometry stream.
func (c *Client) SubscribeGeometry(opts ...fanout.Option) *fanout.Subscription[ssl.GeometryFrame] {
	return c.geometry.Subscribe(opts...)
}

// Stats returns a snapshot of the receive counters.
func (c *Client) Stats() ClientStats {
	return ClientStats{
		Packets:    c.packets.Load(),
		Detections: c.dets.Load(),
		Geometry:   c.geos.Load(),
		Malformed:  c.malformed.Load(),
	}
}

// Run receives until ctx is cancelled or the socket fails. Malformed
// datagrams are logged and skipped. On return the socket is closed and
// every subscription sees fanout.ErrClosed once drained.
func (c *Client) Run(ctx context.Context) error {
	defer c.geometry.Close()
	defer c.detections.Close()
	defer c.recv.Close()

	c.log.Info("vision client started")
	for {
		p, err := c.recv.ReceiveOne(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ssl.ErrMalformed):
			c.malformed.Add(1)
			c.log.Warn("dropping malformed packet", "error", err)
			continue
		case ctx.Err() != nil, errors.Is(err, net.ErrClosed):
			c.log.Info("vision client stopped")
			return nil
		default:
			return err
		}
		c.packets.Add(1)

		if p.Detection != nil {
			c.dets.Add(1)
			if err := c.detections.Publish(ctx, *p.Detection); err != nil && ctx.Err() != nil {
				return nil
			}
		}
		if p.Geometry != nil {
			c.geos.Add(1)
			if err := c.geometry.Publish(ctx, *p.Geometry); err != nil && ctx.Err() != nil {
				return nil
			}
		}
	}
}
