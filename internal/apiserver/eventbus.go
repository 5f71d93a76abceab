package apiserver

import (
	"encoding/json"
	"fmt"
	"sync"
)

// eventBacklog bounds how many undelivered frames each SSE subscriber's
// channel buffers, so one stalled client can't grow memory unbounded. A frame
// published while a subscriber's buffer is full is dropped for that
// subscriber; the subscriber itself is not disconnected.
const eventBacklog = 64

// subscriber is one SSE connection's delivery channel.
type subscriber struct {
	ch chan []byte
}

// EventBus fans out per-execution and list-wide update frames to SSE
// subscribers. Grounded on the teacher's event-stream fan-out pattern of
// buffered per-client channels plus a drop-on-full policy.
type EventBus struct {
	mu            sync.Mutex
	topics        map[string]map[*subscriber]bool // execution_id -> subscribers
	listTopic     map[*subscriber]bool
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{topics: map[string]map[*subscriber]bool{}, listTopic: map[*subscriber]bool{}}
}

// SubscribeExecution registers a new subscriber to one execution's events
// and returns it plus an unsubscribe func.
func (b *EventBus) SubscribeExecution(executionID string) (*subscriber, func()) {
	sub := &subscriber{ch: make(chan []byte, eventBacklog)}
	b.mu.Lock()
	if b.topics[executionID] == nil {
		b.topics[executionID] = map[*subscriber]bool{}
	}
	b.topics[executionID][sub] = true
	b.mu.Unlock()

	return sub, func() {
		b.mu.Lock()
		delete(b.topics[executionID], sub)
		if len(b.topics[executionID]) == 0 {
			delete(b.topics, executionID)
		}
		b.mu.Unlock()
	}
}

// SubscribeList registers a subscriber to the list-wide execution stream.
func (b *EventBus) SubscribeList() (*subscriber, func()) {
	sub := &subscriber{ch: make(chan []byte, eventBacklog)}
	b.mu.Lock()
	b.listTopic[sub] = true
	b.mu.Unlock()

	return sub, func() {
		b.mu.Lock()
		delete(b.listTopic, sub)
		b.mu.Unlock()
	}
}

// PublishExecution sends one named event to an execution's subscribers.
func (b *EventBus) PublishExecution(executionID, event string, payload any) {
	frame := formatSSEFrame(event, payload)
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.topics[executionID] {
		select {
		case sub.ch <- frame:
		default:
			// Slow subscriber: drop the frame rather than block the publisher.
		}
	}
}

// PublishList sends one named event to the list-wide subscribers.
func (b *EventBus) PublishList(event string, payload any) {
	frame := formatSSEFrame(event, payload)
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.listTopic {
		select {
		case sub.ch <- frame:
		default:
		}
	}
}

func formatSSEFrame(event string, payload any) []byte {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(`{}`)
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event, data))
}
