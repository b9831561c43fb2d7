package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/xphd/d3m-mini-ms/internal/observability"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	ID  uuid.UUID
	hub *Hub

	conn *websocket.Conn

	// Buffered channel of outbound frames.
	send chan []byte

	// Closed when writePump returns; conn must not be touched afterwards.
	writerDone chan struct{}

	mu     sync.Mutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		ID:         uuid.New(),
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBuffer),
		writerDone: make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Emit queues event for this client without blocking. A client whose buffer
// is full is dropped.
func (c *Client) Emit(event string, data interface{}) bool {
	frame, err := encodeOutbound(event, data)
	if err != nil {
		c.hub.logger.Error("Gateway", "Failed to encode outbound event", map[string]interface{}{"event": event, "error": err})
		return false
	}
	if !c.enqueue(frame) {
		return false
	}
	c.hub.observeEvent(observability.DirectionOutbound, event)
	return true
}

func (c *Client) enqueue(frame []byte) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	select {
	case c.send <- frame:
		c.mu.Unlock()
		return true
	default:
	}
	c.mu.Unlock()

	c.hub.logger.Warn("Gateway", "Client send buffer full, dropping client", map[string]interface{}{"client_id": c.ID.String()})
	c.hub.drop(c)
	return false
}

// close is idempotent; it ends the write pump and cancels in-flight handlers.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	c.cancel()
}

// readPump pumps frames from the websocket connection to the hub. Closing
// the connection is left to writePump, which outlives it.
func (c *Client) readPump() {
	defer c.hub.drop(c)
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("Gateway", "Unexpected close", map[string]interface{}{"client_id": c.ID.String(), "error": err.Error()})
			}
			return
		}
		c.hub.dispatch(c.ctx, c, raw)
	}
}

// writePump pumps frames from the hub to the websocket connection, one
// frame per event.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.writerDone)
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
