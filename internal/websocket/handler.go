package websocket

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// UpgradeRequired rejects plain HTTP requests on the socket route.
func UpgradeRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

// Handler upgrades a request and serves the connection until it closes.
func (h *Hub) Handler() fiber.Handler {
	return websocket.New(h.ServeWs)
}

// ServeWs handles websocket requests from the peer.
func (h *Hub) ServeWs(conn *websocket.Conn) {
	client := newClient(h, conn)
	if !h.addClient(client) {
		conn.Close()
		return
	}

	go client.writePump()
	client.readPump() // Run readPump in current goroutine (handler)

	// The upgrader recycles conn once this returns.
	<-client.writerDone
}
