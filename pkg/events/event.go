package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Session lifecycle event types.
const (
	SessionStarted     = "SESSION_STARTED"
	StateChanged       = "SESSION_STATE_CHANGED"
	SolutionDiscovered = "SOLUTION_DISCOVERED"
	RunFinished        = "SESSION_RUN_FINISHED"
)

// Event defines the contract for all system events.
type Event interface {
	// EventType returns the unique code for this event (e.g. "SESSION_STARTED").
	EventType() string

	// Payload returns the data associated with the event.
	Payload() map[string]interface{}

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// BaseEvent is the concrete event carried on the in-process bus and mirrored
// to NATS. Its JSON form is the wire envelope.
type BaseEvent struct {
	Type       string                 `json:"type"`
	Data       map[string]interface{} `json:"data"`
	OccurredAt time.Time              `json:"occurredAt"`
}

func New(eventType string, data map[string]interface{}) BaseEvent {
	if data == nil {
		data = map[string]interface{}{}
	}
	return BaseEvent{Type: eventType, Data: data, OccurredAt: time.Now().UTC()}
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) Payload() map[string]interface{} {
	return e.Data
}

func (e BaseEvent) Timestamp() time.Time {
	return e.OccurredAt
}

// Subject is the NATS subject an event type is mirrored to.
func Subject(prefix, eventType string) string {
	return prefix + "." + strings.ToLower(eventType)
}

func Marshal(e Event) ([]byte, error) {
	return json.Marshal(BaseEvent{Type: e.EventType(), Data: e.Payload(), OccurredAt: e.Timestamp()})
}

func Unmarshal(data []byte) (BaseEvent, error) {
	var e BaseEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return BaseEvent{}, fmt.Errorf("events: decode: %w", err)
	}
	if e.Type == "" {
		return BaseEvent{}, fmt.Errorf("events: decode: missing type")
	}
	return e, nil
}
