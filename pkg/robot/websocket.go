package robot

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-sslteam/internal/log"
)

const (
	wsWriteWait = 2 * time.Second
	wsCloseWait = time.Second
)

// WebSocketRadio sends each encoded RobotCommands message as one binary
// websocket message. It suits radio bridges that cannot speak gRPC.
type WebSocketRadio struct {
	url    string
	header http.Header
	dialer websocket.Dialer
	log    *slog.Logger
}

// NewWebSocketRadio creates a radio for a ws:// or wss:// URL.
func NewWebSocketRadio(url string, header http.Header, logger *slog.Logger) *WebSocketRadio {
	return &WebSocketRadio{
		url:    url,
		header: header,
		dialer: websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:    log.Or(logger, "radio").With("transport", "websocket", "url", url),
	}
}

// OpenCommandStream dials the radio.
func (r *WebSocketRadio) OpenCommandStream(ctx context.Context) (CommandStream, error) {
	conn, _, err := r.dialer.DialContext(ctx, r.url, r.header)
	if err != nil {
		return nil, fmt.Errorf("robot: dial radio %s: %w", r.url, err)
	}
	s := &wsStream{conn: conn, done: make(chan struct{})}
	go s.readLoop()
	r.log.Debug("command stream opened")
	return s, nil
}

type wsStream struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	done    chan struct{} // closed when the read side fails
	readErr error
}

// readLoop discards inbound messages. Its only job is to notice the peer
// going away and to answer control frames.
func (s *wsStream) readLoop() {
	defer close(s.done)
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			s.readErr = err
			return
		}
	}
}

func (s *wsStream) Send(msg []byte) error {
	select {
	case <-s.done:
		return fmt.Errorf("%w: %v", ErrStreamClosed, s.readErr)
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := s.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err) || err == websocket.ErrCloseSent {
			return fmt.Errorf("%w: %v", ErrStreamClosed, err)
		}
		select {
		case <-s.done:
			return fmt.Errorf("%w: %v", ErrStreamClosed, err)
		default:
		}
		return err
	}
	return nil
}

// Close sends a close frame and waits briefly for the peer to answer.
func (s *wsStream) Close() error {
	s.writeMu.Lock()
	err := s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsWriteWait))
	s.writeMu.Unlock()

	select {
	case <-s.done:
	case <-time.After(wsCloseWait):
	}
	if cerr := s.conn.Close(); err == nil {
		err = cerr
	}
	if err == websocket.ErrCloseSent {
		return nil
	}
	return err
}
