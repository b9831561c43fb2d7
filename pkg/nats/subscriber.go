package nats

import (
	"context"
	"fmt"
	"sync"

	"github.com/xphd/d3m-mini-ms/internal/pkg/logger"
	"github.com/xphd/d3m-mini-ms/pkg/events"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// EventHandler is a function that processes an event.
type EventHandler func(ctx context.Context, event events.Event) error

type SubscribeOptions struct {
	// Durable names a persistent consumer that resumes where it stopped.
	// Empty uses an ordered, ephemeral consumer.
	Durable string
	// DeliverAll replays the retained history first. Ephemeral only.
	DeliverAll bool
}

// Subscriber listens for relay events on JetStream.
type Subscriber struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger logger.ILogger
}

func NewSubscriber(url string, log logger.ILogger) (*Subscriber, error) {
	nc, js, err := connect(url)
	if err != nil {
		return nil, err
	}
	return &Subscriber{nc: nc, js: js, logger: log}, nil
}

// Subscribe runs handler for every event matching subject until stop is
// called or ctx ends.
func (s *Subscriber) Subscribe(ctx context.Context, subject string, opts SubscribeOptions, handler EventHandler) (stop func(), err error) {
	var consumer jetstream.Consumer
	if opts.Durable != "" {
		consumer, err = s.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
			Durable:       opts.Durable,
			FilterSubject: subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
		})
	} else {
		deliver := jetstream.DeliverNewPolicy
		if opts.DeliverAll {
			deliver = jetstream.DeliverAllPolicy
		}
		consumer, err = s.js.OrderedConsumer(ctx, StreamName, jetstream.OrderedConsumerConfig{
			FilterSubjects: []string{subject},
			DeliverPolicy:  deliver,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		event, err := events.Unmarshal(msg.Data())
		if err != nil {
			s.logger.Warn(logModule, "Dropping undecodable event", map[string]interface{}{"subject": msg.Subject(), "error": err.Error()})
			_ = msg.Term()
			return
		}
		if err := handler(ctx, event); err != nil {
			s.logger.Warn(logModule, "Handler failed", map[string]interface{}{"subject": msg.Subject(), "error": err.Error()})
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	s.logger.Info(logModule, "Subscribed", map[string]interface{}{"subject": subject, "durable": opts.Durable})
	var once sync.Once
	stop = func() { once.Do(cc.Stop) }
	context.AfterFunc(ctx, stop)
	return stop, nil
}

func (s *Subscriber) Close() {
	if s.nc != nil {
		s.nc.Close()
	}
}
