// Package hub broadcasts messages to websocket clients using a single
// goroutine that owns the client set.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-sslteam/internal/log"
)

// MessageType indicates the websocket frame type.
type MessageType int

const (
	TextMessage MessageType = iota
	BinaryMessage
)

// Message is one frame queued for every client.
type Message struct {
	Type MessageType
	Data []byte
}

// NewTextMessage wraps pre-encoded JSON or text.
func NewTextMessage(data []byte) Message {
	return Message{Type: TextMessage, Data: data}
}

// NewBinaryMessage wraps binary data.
func NewBinaryMessage(data []byte) Message {
	return Message{Type: BinaryMessage, Data: data}
}

// Hub maintains the set of active clients and broadcasts messages to them.
type Hub struct {
	name string
	log  *slog.Logger

	clients    map[*Client]struct{}
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu      sync.RWMutex // guards len(clients) for ClientCount
	running atomic.Bool
	dropped atomic.Uint64
}

// New creates a hub. Run must be called for clients to be served.
func New(name string, logger *slog.Logger) *Hub {
	return &Hub{
		name:       name,
		log:        log.Or(logger, "hub").With("hub", name),
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run serves clients until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer func() {
		h.running.Store(false)
		close(h.done)
		h.mu.Lock()
		for c := range h.clients {
			close(c.send)
			delete(h.clients, c)
		}
		h.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			count := len(h.clients)
			h.mu.Unlock()
			h.log.Info("client connected", "clients", count)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.log.Info("client disconnected", "clients", count)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow client: drop it rather than stall everyone else.
					close(c.send)
					delete(h.clients, c)
					h.log.Warn("dropped slow client")
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues msg for every client. The message is dropped if the
// broadcast queue is full.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		if n := h.dropped.Add(1); n == 1 || n%100 == 0 {
			h.log.Warn("broadcast queue full, dropping message", "dropped", n)
		}
	}
}

// BroadcastJSON encodes v and broadcasts it as a text message.
func (h *Hub) BroadcastJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(NewTextMessage(data))
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// IsRunning reports whether Run is active.
func (h *Hub) IsRunning() bool {
	return h.running.Load()
}
