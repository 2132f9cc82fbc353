package events

import (
	"bytes"
	"testing"
	"time"

	"github.com/cuemby/strata/pkg/log"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerDelivers(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	assert.Equal(t, 1, broker.SubscriberCount())

	broker.Publish(NewEvent(EventNodeDead, "node dn-1 is dead", map[string]string{"node_id": "dn-1"}))

	select {
	case ev := <-sub:
		assert.Equal(t, EventNodeDead, ev.Type)
		assert.Equal(t, "dn-1", ev.Metadata["node_id"])
		assert.NotEmpty(t, ev.ID)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	broker.Unsubscribe(sub)
	broker.Unsubscribe(sub)
	assert.Equal(t, 0, broker.SubscriberCount())
}

func TestPublishDoesNotBlock(t *testing.T) {
	broker := NewBroker()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			broker.Publish(&Event{Type: EventReplicationCommandSent})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		require.Fail(t, "publish blocked without a running broker")
	}

	broker.Stop()
	broker.Stop()
}

func TestPublishDropsWhenFull(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	defer func() { log.Logger = prev }()

	broker := NewBroker()
	for i := 0; i < cap(broker.eventCh)+1; i++ {
		broker.Publish(&Event{Type: EventPendingOpExpired})
	}

	assert.Len(t, broker.eventCh, cap(broker.eventCh))
	assert.Contains(t, buf.String(), "Event queue full, dropping event")
	assert.Contains(t, buf.String(), `"component":"events"`)
	broker.Stop()
}
