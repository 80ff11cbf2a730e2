package vision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/net/ipv4"

	"github.com/teslashibe/go-sslteam/internal/log"
	"github.com/teslashibe/go-sslteam/pkg/fanout"
	"github.com/teslashibe/go-sslteam/pkg/ssl"
)

// Republisher re-encodes frames as wrapper packets and sends them to a
// destination, typically another multicast group.
type Republisher struct {
	conn net.PacketConn
	dst  net.Addr
	log  *slog.Logger

	mu sync.Mutex
}

// DialMulticast opens a send socket for group:port with the given TTL.
func DialMulticast(group string, port, ttl int, logger *slog.Logger) (*Republisher, error) {
	ip := net.ParseIP(group)
	if ip == nil || ip.To4() == nil {
		return nil, fmt.Errorf("%w: %q is not an IPv4 address", ErrBind, group)
	}
	conn, err := net.ListenPacket("udp4", "0.0.0.0:0")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBind, err)
	}
	if ip.IsMulticast() {
		p := ipv4.NewPacketConn(conn)
		if err := p.SetMulticastTTL(ttl); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: ttl: %v", ErrBind, err)
		}
		if err := p.SetMulticastLoopback(true); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: loopback: %v", ErrBind, err)
		}
	}
	return NewRepublisher(conn, &net.UDPAddr{IP: ip, Port: port}, logger), nil
}

// NewRepublisher sends through conn to dst and takes ownership of conn.
func NewRepublisher(conn net.PacketConn, dst net.Addr, logger *slog.Logger) *Republisher {
	return &Republisher{
		conn: conn,
		dst:  dst,
		log:  log.Or(logger, "republisher").With("dst", dst.String()),
	}
}

// Send writes one packet.
func (r *Republisher) Send(p ssl.Packet) error {
	b := p.Marshal()
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.conn.WriteTo(b, r.dst)
	return err
}

// Run forwards both streams until ctx is cancelled or both streams close.
// A failed send is logged and the frame dropped. Either source may be nil.
func (r *Republisher) Run(ctx context.Context, detections fanout.Source[ssl.DetectionFrame], geometry fanout.Source[ssl.GeometryFrame]) error {
	var wg sync.WaitGroup
	if detections != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			forward(ctx, r, detections, func(f ssl.DetectionFrame) ssl.Packet {
				return ssl.Packet{Detection: &f}
			})
		}()
	}
	if geometry != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			forward(ctx, r, geometry, func(g ssl.GeometryFrame) ssl.Packet {
				return ssl.Packet{Geometry: &g}
			})
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func forward[T any](ctx context.Context, r *Republisher, src fanout.Source[T], wrap func(T) ssl.Packet) {
	for {
		v, err := src.Recv(ctx)
		if err != nil {
			if !errors.Is(err, fanout.ErrClosed) && ctx.Err() == nil {
				r.log.Warn("republish source failed", "error", err)
			}
			return
		}
		if err := r.Send(wrap(v)); err != nil {
			r.log.Warn("republish failed", "error", err)
			continue
		}
		r.log.Debug("republished packet")
	}
}

// Close closes the send socket.
func (r *Republisher) Close() error {
	return r.conn.Close()
}
