package websocket

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/xphd/d3m-mini-ms/internal/pkg/logger"

	wsclient "github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu        sync.Mutex
	events    map[string]int
	connected int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{events: map[string]int{}}
}

func (o *recordingObserver) ObserveEvent(direction, event string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events[direction+":"+event]++
}

func (o *recordingObserver) ClientConnected() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.connected++
}

func (o *recordingObserver) ClientDisconnected() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.connected--
}

func (o *recordingObserver) count(key string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.events[key]
}

func (o *recordingObserver) clients() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.connected
}

func runHub(t *testing.T, observer Observer) *Hub {
	t.Helper()
	hub := NewHub(logger.NewNopLogger(), observer)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub
}

func attach(t *testing.T, hub *Hub) *Client {
	t.Helper()
	c := newClient(hub, nil)
	require.True(t, hub.addClient(c))
	return c
}

func nextFrame(t *testing.T, c *Client) OutboundMessage {
	t.Helper()
	select {
	case raw, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		var msg struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		require.NoError(t, json.Unmarshal(raw, &msg))
		return OutboundMessage{Event: msg.Event, Data: msg.Data}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame")
		return OutboundMessage{}
	}
}

func TestBroadcastReachesEveryClient(t *testing.T) {
	observer := newRecordingObserver()
	hub := runHub(t, observer)
	a, b := attach(t, hub), attach(t, hub)
	require.Eventually(t, func() bool { return hub.Len() == 2 }, time.Second, 5*time.Millisecond)

	hub.Broadcast("sessionStatus", map[string]string{"state": "Searching"})

	for _, c := range []*Client{a, b} {
		frame := nextFrame(t, c)
		assert.Equal(t, "sessionStatus", frame.Event)
		assert.JSONEq(t, `{"state":"Searching"}`, string(frame.Data.(json.RawMessage)))
	}
	assert.Equal(t, 2, observer.count("out:sessionStatus"))
	assert.Equal(t, 2, observer.clients())
}

func TestDispatchRoutesByEvent(t *testing.T) {
	observer := newRecordingObserver()
	hub := runHub(t, observer)
	c := attach(t, hub)

	hub.On("echo", func(ctx context.Context, e Emitter, args []json.RawMessage) {
		var ids []string
		_, err := Arg(args, 0, &ids)
		assert.NoError(t, err)
		e.Emit("echoed", ids)
	})

	hub.dispatch(c.ctx, c, []byte(`not json`))
	hub.dispatch(c.ctx, c, []byte(`{"event":"unknown"}`))
	hub.dispatch(c.ctx, c, []byte(`{"event":"echo","args":[["A","B"]]}`))

	frame := nextFrame(t, c)
	assert.Equal(t, "echoed", frame.Event)
	assert.JSONEq(t, `["A","B"]`, string(frame.Data.(json.RawMessage)))
	assert.Equal(t, 1, observer.count("in:echo"))
	assert.Zero(t, observer.count("in:unknown"))
}

func TestArg(t *testing.T) {
	args := []json.RawMessage{json.RawMessage(`"A"`), json.RawMessage(`null`), json.RawMessage(`{`)}

	var s string
	ok, err := Arg(args, 0, &s)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "A", s)

	ok, err = Arg(args, 1, &s)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Arg(args, 5, &s)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = Arg(args, 2, &s)
	assert.ErrorIs(t, err, ErrInvalidFrame)
}

func TestSlowClientIsDropped(t *testing.T) {
	observer := newRecordingObserver()
	hub := runHub(t, observer)
	slow := attach(t, hub)
	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	for i := 0; i < sendBuffer; i++ {
		require.True(t, slow.Emit("tick", i))
	}
	assert.False(t, slow.Emit("tick", "overflow"))

	require.Eventually(t, func() bool { return hub.Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.False(t, slow.Emit("tick", "after close"))
	assert.Error(t, slow.ctx.Err())
	assert.Eventually(t, func() bool { return observer.clients() == 0 }, time.Second, 5*time.Millisecond)

	// Broadcasting to no one is fine.
	hub.Broadcast("sessionStatus", nil)
}

func TestServeWsEndToEnd(t *testing.T) {
	hub := runHub(t, nil)
	hub.On("ping", func(ctx context.Context, e Emitter, args []json.RawMessage) {
		var n int
		Arg(args, 0, &n)
		e.Emit("pong", n+1)
	})

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use("/socket", UpgradeRequired())
	app.Get("/socket", hub.Handler())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go app.Listener(ln)
	t.Cleanup(func() { app.Shutdown() })

	conn, _, err := wsclient.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/socket", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(InboundMessage{Event: "ping", Args: []json.RawMessage{json.RawMessage(`41`)}}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply struct {
		Event string `json:"event"`
		Data  int    `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "pong", reply.Event)
	assert.Equal(t, 42, reply.Data)

	hub.Broadcast("sessionStatus", map[string]int{"generation": 1})
	var status OutboundMessage
	require.NoError(t, conn.ReadJSON(&status))
	assert.Equal(t, "sessionStatus", status.Event)
}

func TestReconnectingClientsGetTheirOwnFrames(t *testing.T) {
	hub := runHub(t, nil)
	hub.On("echo", func(ctx context.Context, e Emitter, args []json.RawMessage) {
		var n int
		Arg(args, 0, &n)
		e.Emit("echo", n)
	})

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use("/socket", UpgradeRequired())
	app.Get("/socket", hub.Handler())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go app.Listener(ln)
	t.Cleanup(func() { app.Shutdown() })

	url := "ws://" + ln.Addr().String() + "/socket"
	for i := 0; i < 5; i++ {
		conn, _, err := wsclient.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)

		require.NoError(t, conn.WriteJSON(InboundMessage{Event: "echo", Args: []json.RawMessage{json.RawMessage(strconv.Itoa(i))}}))
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var reply struct {
			Event string `json:"event"`
			Data  int    `json:"data"`
		}
		require.NoError(t, conn.ReadJSON(&reply))
		assert.Equal(t, i, reply.Data)

		require.NoError(t, conn.Close())
		require.Eventually(t, func() bool { return hub.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	}
}
