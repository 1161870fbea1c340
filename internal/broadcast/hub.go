// Package broadcast pushes committed ledger events to the owner's open
// websocket connections. Delivery is best effort: a client whose buffer is
// full misses the message and catches up on its next state pull.
package broadcast

import (
	"context"
	"encoding/json"
	"sync"

	"slot-ledger-go/internal/events"
	"slot-ledger-go/internal/metrics"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Renderer builds the wire envelope of an event
type Renderer interface {
	Message(evt events.Event) events.Message
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]bool

	render     Renderer
	metrics    *metrics.Metrics
	sendBuffer int
}

func NewHub(render Renderer, m *metrics.Metrics, sendBuffer int) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		render:     render,
		metrics:    m,
		sendBuffer: sendBuffer,
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	if h.clients[c.ownerId] == nil {
		h.clients[c.ownerId] = make(map[*Client]bool)
	}
	h.clients[c.ownerId][c] = true
	count := len(h.clients[c.ownerId])
	h.mu.Unlock()

	h.metrics.ConnectionOpened()
	zap.L().Info("WebSocket client registered",
		zap.String("owner_id", c.ownerId),
		zap.String("client_id", c.id),
		zap.Int("connection_count", count))
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.ownerId]
	if ok && clients[c] {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.clients, c.ownerId)
		}
	} else {
		ok = false
	}
	count := len(clients)
	h.mu.Unlock()

	c.Close()
	if !ok {
		return
	}
	h.metrics.ConnectionClosed()
	zap.L().Info("WebSocket client unregistered",
		zap.String("owner_id", c.ownerId),
		zap.String("client_id", c.id),
		zap.Int("connection_count", count))
}

// Connections is the number of open connections of an owner
func (h *Hub) Connections(ownerId string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[ownerId])
}

// ServeConn registers an upgraded connection and blocks until it closes
func (h *Hub) ServeConn(conn *websocket.Conn, ownerId string) {
	c := newClient(conn, ownerId, h.sendBuffer)
	h.register(c)
	defer h.unregister(c)

	go c.writePump()
	c.readPump()
}

// Deliver pushes one event to every connection of its owner and returns
// how many accepted it.
func (h *Hub) Deliver(evt events.Event) int {
	if evt.OwnerId == "" {
		return 0
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients[evt.OwnerId]))
	for c := range h.clients[evt.OwnerId] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return 0
	}

	data, err := json.Marshal(h.render.Message(evt))
	if err != nil {
		zap.L().Error("Failed to marshal websocket message",
			zap.String("type", string(evt.Type)),
			zap.String("owner_id", evt.OwnerId),
			zap.Error(err))
		return 0
	}

	delivered := 0
	for _, c := range targets {
		if c.Send(data) {
			delivered++
			continue
		}
		h.metrics.CountDropped("websocket")
		zap.L().Warn("WebSocket client send buffer full, dropping message",
			zap.String("owner_id", c.ownerId),
			zap.String("client_id", c.id),
			zap.String("type", string(evt.Type)))
	}
	return delivered
}

// Run delivers bus events until ctx is done or the subscription closes
func (h *Hub) Run(ctx context.Context, sub *events.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			h.Deliver(evt)
		}
	}
}

// CloseAll disconnects every client
func (h *Hub) CloseAll() {
	h.mu.RLock()
	var all []*Client
	for _, clients := range h.clients {
		for c := range clients {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range all {
		c.Close()
	}
}
