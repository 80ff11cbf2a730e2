// Package vision receives SSL-Vision multicast traffic and fans decoded
// frames out to subscribers.
package vision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/teslashibe/go-sslteam/internal/log"
	"github.com/teslashibe/go-sslteam/pkg/ssl"
)

// Default SSL-Vision endpoints.
const (
	DefaultGroup         = "224.5.23.2"
	DefaultPort          = 10006
	DefaultRepublishPort = 10007
	DefaultMulticastTTL  = 32
)

// ErrBind wraps failures to open the receive socket or join the group.
var ErrBind = errors.New("vision: bind failed")

// BindOptions tunes the multicast socket.
type BindOptions struct {
	// Interface joins the group on the named interface. Empty lets the
	// kernel choose.
	Interface string
	// Loopback receives packets sent from this host.
	Loopback bool
	Logger   *slog.Logger
}

// Bind opens a UDP socket on port and joins the multicast group.
func Bind(ctx context.Context, group string, port int, opts BindOptions) (*Receiver, error) {
	ip := net.ParseIP(group)
	if ip == nil || ip.To4() == nil || !ip.IsMulticast() {
		return nil, fmt.Errorf("%w: %q is not an IPv4 multicast group", ErrBind, group)
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("%w: invalid port %d", ErrBind, port)
	}

	var ifi *net.Interface
	if opts.Interface != "" {
		var err error
		if ifi, err = net.InterfaceByName(opts.Interface); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBind, err)
		}
	}

	lc := net.ListenConfig{Control: reuseAddr}
	conn, err := lc.ListenPacket(ctx, "udp4", net.JoinHostPort("0.0.0.0", strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBind, err)
	}

	p := ipv4.NewPacketConn(conn)
	if err := p.JoinGroup(ifi, &net.UDPAddr{IP: ip}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: join %s: %v", ErrBind, group, err)
	}
	if err := p.SetMulticastLoopback(opts.Loopback); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: loopback: %v", ErrBind, err)
	}

	r := NewReceiver(conn, opts.Logger)
	r.log.Info("joined vision group", "group", group, "port", port)
	return r, nil
}

// Receiver reads and decodes one wrapper packet per datagram. It owns its
// connection and a single reusable receive buffer, so ReceiveOne must not be
// called concurrently.
type Receiver struct {
	conn net.PacketConn
	buf  []byte
	log  *slog.Logger
}

// NewReceiver wraps an already bound connection.
func NewReceiver(conn net.PacketConn, logger *slog.Logger) *Receiver {
	return &Receiver{
		conn: conn,
		buf:  make([]byte, ssl.MaxDatagramSize),
		log:  log.Or(logger, "vision"),
	}
}

// LocalAddr returns the bound address.
func (r *Receiver) LocalAddr() net.Addr { return r.conn.LocalAddr() }

// ReceiveOne blocks until a datagram arrives and decodes it. A datagram that
// does not decode yields an error wrapping ssl.ErrMalformed; the receiver
// stays usable. Cancelling ctx unblocks the read and returns ctx.Err().
func (r *Receiver) ReceiveOne(ctx context.Context) (ssl.Packet, error) {
	if err := ctx.Err(); err != nil {
		return ssl.Packet{}, err
	}
	if err := r.conn.SetReadDeadline(time.Time{}); err != nil {
		return ssl.Packet{}, err
	}
	stop := context.AfterFunc(ctx, func() {
		r.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	n, from, err := r.conn.ReadFrom(r.buf)
	if err != nil {
		if ctx.Err() != nil {
			return ssl.Packet{}, ctx.Err()
		}
		return ssl.Packet{}, err
	}

	p, err := ssl.DecodePacket(r.buf[:n])
	if err != nil {
		return ssl.Packet{}, fmt.Errorf("from %v (%d bytes): %w", from, n, err)
	}
	r.log.Debug("received packet", "bytes", n, "kind", p.Kind())
	return p, nil
}

// Close closes the socket. A pending ReceiveOne returns net.ErrClosed.
func (r *Receiver) Close() error {
	return r.conn.Close()
}
