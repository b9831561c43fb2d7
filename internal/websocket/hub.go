package websocket

import (
	"context"
	"sync"

	"github.com/xphd/d3m-mini-ms/internal/observability"
	"github.com/xphd/d3m-mini-ms/internal/pkg/logger"
)

// Observer is told about gateway traffic. *observability.RelayMetrics
// implements it.
type Observer interface {
	ObserveEvent(direction, event string)
	ClientConnected()
	ClientDisconnected()
}

type Hub struct {
	clients map[*Client]struct{}

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	done chan struct{}

	// Lock for safe map access
	mu sync.RWMutex

	handlersMu sync.RWMutex
	handlers   map[string]HandlerFunc

	observer Observer
	logger   logger.ILogger
}

// NewHub creates a hub; observer may be nil.
func NewHub(log logger.ILogger, observer Observer) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		handlers:   make(map[string]HandlerFunc),
		observer:   observer,
		logger:     log,
	}
}

// On routes inbound event to fn, replacing any earlier handler.
func (h *Hub) On(event string, fn HandlerFunc) {
	h.handlersMu.Lock()
	defer h.handlersMu.Unlock()
	h.handlers[event] = fn
}

// Run owns client membership until ctx is done, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		h.mu.Lock()
		for client := range h.clients {
			delete(h.clients, client)
			client.close()
			h.observeDisconnect()
		}
		h.mu.Unlock()
	}()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			h.mu.Unlock()
			if h.observer != nil {
				h.observer.ClientConnected()
			}
			h.logger.Info("Hub", "Client registered", map[string]interface{}{"client_id": client.ID.String()})

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client]
			delete(h.clients, client)
			h.mu.Unlock()
			client.close()
			if ok {
				h.observeDisconnect()
				h.logger.Info("Hub", "Client unregistered", map[string]interface{}{"client_id": client.ID.String()})
			}

		case <-ctx.Done():
			return
		}
	}
}

// Len is the number of registered clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends event to ALL connected clients.
func (h *Hub) Broadcast(event string, data interface{}) {
	frame, err := encodeOutbound(event, data)
	if err != nil {
		h.logger.Error("Hub", "Failed to encode broadcast", map[string]interface{}{"event": event, "error": err})
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		if client.enqueue(frame) {
			h.observeEvent(observability.DirectionOutbound, event)
		}
	}
}

func (h *Hub) addClient(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// drop closes c and removes it from the hub. It never blocks the caller, so
// it is safe while iterating clients.
func (h *Hub) drop(c *Client) {
	c.close()
	go func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
	}()
}

func (h *Hub) dispatch(ctx context.Context, c *Client, raw []byte) {
	msg, err := decodeInbound(raw)
	if err != nil {
		h.logger.Warn("Hub", "Dropping malformed frame", map[string]interface{}{"client_id": c.ID.String(), "error": err.Error()})
		return
	}

	h.handlersMu.RLock()
	fn, ok := h.handlers[msg.Event]
	h.handlersMu.RUnlock()
	if !ok {
		h.logger.Warn("Hub", "No handler for event", map[string]interface{}{"client_id": c.ID.String(), "event": msg.Event})
		return
	}
	h.observeEvent(observability.DirectionInbound, msg.Event)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("Hub", "Handler panicked", map[string]interface{}{"event": msg.Event, "panic": r})
			}
		}()
		fn(ctx, c, msg.Args)
	}()
}

func (h *Hub) observeEvent(direction, event string) {
	if h.observer != nil {
		h.observer.ObserveEvent(direction, event)
	}
}

func (h *Hub) observeDisconnect() {
	if h.observer != nil {
		h.observer.ClientDisconnected()
	}
}
