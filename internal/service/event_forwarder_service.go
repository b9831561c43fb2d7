package service

import (
	"context"
	"time"

	"github.com/xphd/d3m-mini-ms/internal/pkg/logger"
	"github.com/xphd/d3m-mini-ms/pkg/events"

	"github.com/ThreeDotsLabs/watermill/message"
)

// SessionStatusEvent is the front-end event every lifecycle event is
// broadcast as.
const SessionStatusEvent = "sessionStatus"

const mirrorTimeout = 5 * time.Second

// Broadcaster pushes an event to every connected front end.
type Broadcaster interface {
	Broadcast(event string, data interface{})
}

// EventMirror receives a copy of every lifecycle event, e.g. NATS.
type EventMirror interface {
	Publish(ctx context.Context, event events.Event) error
}

type IEventForwarderService interface {
	Consume(ctx context.Context) error
}

type eventForwarderService struct {
	pubSub      message.Subscriber
	topicName   string
	broadcaster Broadcaster
	mirror      EventMirror
	logger      logger.ILogger
}

// NewEventForwarderService forwards lifecycle events from the in-process bus.
// mirror may be nil.
func NewEventForwarderService(
	pubSub message.Subscriber,
	topicName string,
	broadcaster Broadcaster,
	mirror EventMirror,
	log logger.ILogger,
) IEventForwarderService {
	return &eventForwarderService{
		pubSub:      pubSub,
		topicName:   topicName,
		broadcaster: broadcaster,
		mirror:      mirror,
		logger:      log,
	}
}

func (s *eventForwarderService) Consume(ctx context.Context) error {
	messages, err := s.pubSub.Subscribe(ctx, s.topicName)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			s.processMessage(ctx, msg)
		}
	}()

	return nil
}

func (s *eventForwarderService) processMessage(ctx context.Context, msg *message.Message) {
	event, err := events.Unmarshal(msg.Payload)
	if err != nil {
		s.logger.Error("EventForwarder", "Failed to decode lifecycle event", map[string]interface{}{"message_id": msg.UUID, "error": err})
		msg.Ack() // Ack invalid messages to prevent infinite redelivery
		return
	}

	s.broadcaster.Broadcast(SessionStatusEvent, event)

	if s.mirror != nil {
		mctx, cancel := context.WithTimeout(ctx, mirrorTimeout)
		defer cancel()
		if err := s.mirror.Publish(mctx, event); err != nil {
			s.logger.Warn("EventForwarder", "Failed to mirror lifecycle event", map[string]interface{}{"type": event.Type, "error": err.Error()})
		}
	}
	msg.Ack()
}
