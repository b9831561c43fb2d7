package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/fasthttp/websocket"
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type gatewayClient struct {
	conn *websocket.Conn
}

// socketURL turns the relay base URL into its websocket endpoint.
func socketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws", "":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/socket"
	return u.String(), nil
}

func dialGateway(ctx context.Context, base string) (*gatewayClient, error) {
	target, err := socketURL(base)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return &gatewayClient{conn: conn}, nil
}

func (g *gatewayClient) Close() error {
	return g.conn.Close()
}

func (g *gatewayClient) emit(event string, args ...interface{}) error {
	raw := make([]json.RawMessage, 0, len(args))
	for _, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return err
		}
		raw = append(raw, b)
	}
	return g.conn.WriteJSON(map[string]interface{}{"event": event, "args": raw})
}

// await reads frames until onFrame reports done, ctx ends or the connection
// fails.
func (g *gatewayClient) await(ctx context.Context, onFrame func(frame) (bool, error)) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = g.conn.SetReadDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = g.conn.Close() })
	defer stop()

	for {
		var f frame
		if err := g.conn.ReadJSON(&f); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		done, err := onFrame(f)
		if err != nil || done {
			return err
		}
	}
}
