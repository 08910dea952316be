// Package hub fans mission events and rover actions out to websocket
// subscribers.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"rescuerover/internal/model"
)

// Envelope is the JSON frame sent to every subscriber.
type Envelope struct {
	Type    string `json:"type"`
	RoverID string `json:"rover_id,omitempty"`
	Data    any    `json:"data"`
}

// Hub keeps the set of connected clients. Run owns the client map; other
// goroutines talk to it through channels.
type Hub struct {
	logger     *slog.Logger
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu    sync.RWMutex
	count int
}

func New(logger *slog.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run serves register, unregister and broadcast requests until ctx is
// done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.setCount(0)
			return
		case c := <-h.register:
			h.clients[c] = true
			h.setCount(len(h.clients))
			if h.logger != nil {
				h.logger.Info("websocket client connected", "clients", len(h.clients))
			}
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.setCount(len(h.clients))
			if h.logger != nil {
				h.logger.Info("websocket client disconnected", "clients", len(h.clients))
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// slow consumer
					close(c.send)
					delete(h.clients, c)
					if h.logger != nil {
						h.logger.Warn("dropped slow websocket client")
					}
				}
			}
			h.setCount(len(h.clients))
		}
	}
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Broadcast queues a frame for every client. Frames are dropped when the
// queue is full.
func (h *Hub) Broadcast(data []byte) {
	select {
	case h.broadcast <- data:
	default:
		if h.logger != nil {
			h.logger.Warn("websocket broadcast queue full, dropping frame")
		}
	}
}

func (h *Hub) BroadcastJSON(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	h.Broadcast(data)
	return nil
}

// Dispatch publishes the action chosen for a rover.
func (h *Hub) Dispatch(_ context.Context, roverID string, cmd model.Command) error {
	return h.BroadcastJSON(Envelope{Type: "action", RoverID: roverID, Data: cmd})
}

// PublishEvent publishes a mission event.
func (h *Hub) PublishEvent(ev model.MissionEvent) {
	if err := h.BroadcastJSON(Envelope{Type: "mission_event", RoverID: ev.RoverID, Data: ev}); err != nil && h.logger != nil {
		h.logger.Warn("encode mission event", "err", err)
	}
}
