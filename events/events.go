package events

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/Marfusios/strike-lightning-bridge/logger"
)

type Event struct {
	Event      string      `json:"event"`
	Properties interface{} `json:"properties,omitempty"`
}

type EventSubscriber interface {
	ConsumeEvent(ctx context.Context, event *Event, globalProperties map[string]interface{})
}

type EventPublisher interface {
	RegisterSubscriber(subscriber EventSubscriber)
	RemoveSubscriber(subscriber EventSubscriber)
	Publish(event *Event)
	PublishSync(event *Event)
	SetGlobalProperty(key string, value interface{})
}

type eventPublisher struct {
	listeners        []EventSubscriber
	subscriberMtx    sync.Mutex
	globalProperties map[string]interface{}
}

func NewEventPublisher() *eventPublisher {
	return &eventPublisher{
		listeners:        []EventSubscriber{},
		globalProperties: map[string]interface{}{},
	}
}

func (ep *eventPublisher) RegisterSubscriber(subscriber EventSubscriber) {
	ep.subscriberMtx.Lock()
	defer ep.subscriberMtx.Unlock()
	ep.listeners = append(ep.listeners, subscriber)
}

func (ep *eventPublisher) RemoveSubscriber(subscriberToRemove EventSubscriber) {
	ep.subscriberMtx.Lock()
	defer ep.subscriberMtx.Unlock()

	for i, subscriber := range ep.listeners {
		if subscriber == subscriberToRemove {
			ep.listeners = slices.Delete(ep.listeners, i, i+1)
			return
		}
	}
}

// Publish delivers the event to each subscriber on its own goroutine.
// Delivery order across subscribers is not guaranteed.
func (ep *eventPublisher) Publish(event *Event) {
	ep.publish(event, false)
}

// PublishSync delivers the event to every subscriber before returning.
func (ep *eventPublisher) PublishSync(event *Event) {
	ep.publish(event, true)
}

func (ep *eventPublisher) publish(event *Event, synchronous bool) {
	ep.subscriberMtx.Lock()
	listeners := slices.Clone(ep.listeners)
	// snapshot, SetGlobalProperty may mutate the map concurrently
	globalProperties := maps.Clone(ep.globalProperties)
	ep.subscriberMtx.Unlock()

	logger.Logger.Debug().Str("event", event.Event).Msg("Publishing event")

	var wg sync.WaitGroup
	for _, listener := range listeners {
		wg.Add(1)
		go func(listener EventSubscriber) {
			defer wg.Done()
			listener.ConsumeEvent(context.Background(), event, globalProperties)
		}(listener)
	}
	if synchronous {
		wg.Wait()
	}
}

func (ep *eventPublisher) SetGlobalProperty(key string, value interface{}) {
	ep.subscriberMtx.Lock()
	defer ep.subscriberMtx.Unlock()
	ep.globalProperties[key] = value
}
