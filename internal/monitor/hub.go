// Package monitor is the operator-facing surface of noisefighter: a JSON
// control API over HTTP and a WebSocket feed of the live waveform and gate
// state.
//
// A [Hub] fans engine notifications out to every connected client. Each
// client has its own bounded queue; a client that falls behind loses
// messages rather than slowing the others or the engine.
package monitor

import (
	"context"
	"sync"

	"github.com/MrWong99/noisefighter/internal/engine"
	"github.com/MrWong99/noisefighter/internal/observe"
)

// DefaultClientQueue is the per-client message queue depth, roughly a second
// of waveform updates at 44.1 kHz with 1024-sample frames.
const DefaultClientQueue = 64

// Message types sent to clients.
const (
	TypeWaveform = "waveform"
	TypeState    = "state"
	TypeStatus   = "status"
)

// Message is one JSON message on the WebSocket feed.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Notifier is the subset of the engine that emits display updates.
type Notifier interface {
	OnWaveform(fn func(engine.Waveform))
	OnGateStateChanged(fn func(engine.StateChange))
}

// Client receives messages from a [Hub].
type Client struct {
	C       chan Message
	dropped int
}

// Dropped returns how many messages were discarded because the client was
// too slow. Only meaningful while the hub is quiescent (tests).
func (c *Client) Dropped() int { return c.dropped }

// Hub fans messages out to subscribed clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	queue   int
	metrics *observe.Metrics
}

// NewHub returns an empty hub. A queue of zero or less selects
// [DefaultClientQueue].
func NewHub(queue int, m *observe.Metrics) *Hub {
	if queue <= 0 {
		queue = DefaultClientQueue
	}
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Hub{
		clients: make(map[*Client]struct{}),
		queue:   queue,
		metrics: m,
	}
}

// Attach subscribes the hub to n's waveform and state notifications.
func (h *Hub) Attach(n Notifier) {
	n.OnWaveform(func(w engine.Waveform) {
		h.Broadcast(Message{Type: TypeWaveform, Data: w})
	})
	n.OnGateStateChanged(func(sc engine.StateChange) {
		h.Broadcast(Message{Type: TypeState, Data: sc})
	})
}

// Subscribe registers a new client.
func (h *Hub) Subscribe() *Client {
	c := &Client{C: make(chan Message, h.queue)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.metrics.MonitorClients.Add(context.Background(), 1)
	return c
}

// Unsubscribe removes c. Calling it twice is harmless.
func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		h.metrics.MonitorClients.Add(context.Background(), -1)
	}
}

// ClientCount returns the number of subscribed clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues msg for every client without blocking.
func (h *Hub) Broadcast(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.C <- msg:
		default:
			c.dropped++
		}
	}
}
