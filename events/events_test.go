package events

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingSubscriber struct {
	count atomic.Int32
	last  atomic.Value
}

func (s *countingSubscriber) ConsumeEvent(ctx context.Context, event *Event, globalProperties map[string]interface{}) {
	s.count.Add(1)
	s.last.Store(event.Event)
}

func TestPublishSync_WaitsForSubscribers(t *testing.T) {
	publisher := NewEventPublisher()
	first := &countingSubscriber{}
	second := &countingSubscriber{}
	publisher.RegisterSubscriber(first)
	publisher.RegisterSubscriber(second)

	publisher.PublishSync(&Event{Event: "test_event"})

	assert.Equal(t, int32(1), first.count.Load())
	assert.Equal(t, int32(1), second.count.Load())
	assert.Equal(t, "test_event", first.last.Load())
}

func TestRemoveSubscriber(t *testing.T) {
	publisher := NewEventPublisher()
	subscriber := &countingSubscriber{}
	publisher.RegisterSubscriber(subscriber)
	publisher.RemoveSubscriber(subscriber)

	publisher.PublishSync(&Event{Event: "test_event"})
	assert.Equal(t, int32(0), subscriber.count.Load())
}

type propertiesSubscriber struct {
	received map[string]interface{}
}

func (s *propertiesSubscriber) ConsumeEvent(ctx context.Context, event *Event, globalProperties map[string]interface{}) {
	s.received = globalProperties
}

func TestPublish_SubscribersGetGlobalPropertySnapshot(t *testing.T) {
	publisher := NewEventPublisher()
	publisher.SetGlobalProperty("version", "v1")
	subscriber := &propertiesSubscriber{}
	publisher.RegisterSubscriber(subscriber)

	publisher.PublishSync(&Event{Event: "test_event"})
	assert.Equal(t, "v1", subscriber.received["version"])

	// later mutations must not show up in an already delivered map
	publisher.SetGlobalProperty("version", "v2")
	assert.Equal(t, "v1", subscriber.received["version"])
	_, ok := subscriber.received["extra"]
	assert.False(t, ok)
	publisher.SetGlobalProperty("extra", true)
	_, ok = subscriber.received["extra"]
	assert.False(t, ok)
}

func TestPublish_Asynchronous(t *testing.T) {
	publisher := NewEventPublisher()
	subscriber := &countingSubscriber{}
	publisher.RegisterSubscriber(subscriber)

	publisher.Publish(&Event{Event: "test_event"})

	assert.Eventually(t, func() bool {
		return subscriber.count.Load() == 1
	}, time.Second, 10*time.Millisecond)
}
