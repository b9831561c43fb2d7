package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrInvalidFrame = errors.New("websocket: invalid frame")

// InboundMessage is a front-end request frame. Args are positional.
type InboundMessage struct {
	Event string            `json:"event"`
	Args  []json.RawMessage `json:"args,omitempty"`
}

// OutboundMessage is a frame pushed to the front end.
type OutboundMessage struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// Emitter delivers an event to one front end. Emit reports false when the
// client is gone or its buffer overflowed.
type Emitter interface {
	Emit(event string, data interface{}) bool
}

// HandlerFunc serves one inbound event. ctx is cancelled when the client
// disconnects.
type HandlerFunc func(ctx context.Context, emitter Emitter, args []json.RawMessage)

func decodeInbound(raw []byte) (InboundMessage, error) {
	var msg InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return InboundMessage{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if msg.Event == "" {
		return InboundMessage{}, fmt.Errorf("%w: missing event", ErrInvalidFrame)
	}
	return msg, nil
}

func encodeOutbound(event string, data interface{}) ([]byte, error) {
	return json.Marshal(OutboundMessage{Event: event, Data: data})
}

// Arg decodes the i-th positional argument into dst. A missing argument
// leaves dst untouched and returns false.
func Arg(args []json.RawMessage, i int, dst interface{}) (bool, error) {
	if i >= len(args) || len(args[i]) == 0 || string(args[i]) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(args[i], dst); err != nil {
		return false, fmt.Errorf("%w: argument %d: %v", ErrInvalidFrame, i, err)
	}
	return true, nil
}
