package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/xphd/d3m-mini-ms/internal/pkg/logger"
	"github.com/xphd/d3m-mini-ms/pkg/events"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBroadcaster struct {
	mu   sync.Mutex
	sent []events.Event
}

func (b *recordingBroadcaster) Broadcast(event string, data interface{}) {
	if event != SessionStatusEvent {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, data.(events.Event))
}

func (b *recordingBroadcaster) types() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, e := range b.sent {
		out = append(out, e.EventType())
	}
	return out
}

func TestForwarderBroadcastsAndMirrorsInOrder(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{BlockPublishUntilSubscriberAck: true}, watermill.NopLogger{})
	defer pubSub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broadcaster := &recordingBroadcaster{}
	mirror := &recordingPublisher{}
	forwarder := NewEventForwarderService(pubSub, "relay.session", broadcaster, mirror, logger.NewNopLogger())
	require.NoError(t, forwarder.Consume(ctx))

	publisher := NewPublisherService("relay.session", pubSub)
	sequence := []string{events.SessionStarted, events.StateChanged, events.SolutionDiscovered, events.RunFinished}
	for _, typ := range sequence {
		require.NoError(t, publisher.Publish(ctx, events.New(typ, map[string]interface{}{"generation": 1})))
	}

	assert.Eventually(t, func() bool { return len(broadcaster.types()) == len(sequence) }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, sequence, broadcaster.types())
	assert.Equal(t, len(sequence), mirror.count(events.SessionStarted)+mirror.count(events.StateChanged)+
		mirror.count(events.SolutionDiscovered)+mirror.count(events.RunFinished))
}

func TestForwarderAcksUndecodableMessages(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{BlockPublishUntilSubscriberAck: true}, watermill.NopLogger{})
	defer pubSub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broadcaster := &recordingBroadcaster{}
	forwarder := NewEventForwarderService(pubSub, "relay.session", broadcaster, nil, logger.NewNopLogger())
	require.NoError(t, forwarder.Consume(ctx))

	// Publish blocks until the ack, so returning at all proves the ack.
	require.NoError(t, pubSub.Publish("relay.session", message.NewMessage(watermill.NewUUID(), []byte("garbage"))))
	assert.Empty(t, broadcaster.types())
}
