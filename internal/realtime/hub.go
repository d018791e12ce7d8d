package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Event types
const (
	EventHello           = "hello"
	EventSyncPlanChanged = "sync_plan_changed"
)

// Event is a message delivered to device subscribers
type Event struct {
	Type     string                 `json:"type"`
	Revision int64                  `json:"revision"`
	DeviceID string                 `json:"device_id,omitempty"`
	Payload  map[string]interface{} `json:"payload"`
	TS       time.Time              `json:"ts"`
}

type subscriber struct {
	deviceID string
	ch       chan Event
}

// Hub fans events out to in-process subscribers. Every published event gets
// the next value of a monotonic revision counter. Subscribers that cannot
// keep up are dropped and their channel closed.
type Hub struct {
	mu       sync.Mutex
	subs     map[*subscriber]struct{}
	revision atomic.Int64
	now      func() time.Time
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		subs: make(map[*subscriber]struct{}),
		now:  time.Now,
	}
}

// Revision returns the revision of the last published event
func (h *Hub) Revision() int64 {
	return h.revision.Load()
}

// Subscribe registers a subscriber for deviceID (empty for all devices).
// The first event on the channel is a hello carrying the current revision.
func (h *Hub) Subscribe(deviceID string, buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	sub := &subscriber{deviceID: deviceID, ch: make(chan Event, buffer)}
	sub.ch <- Event{Type: EventHello, Revision: h.Revision(), DeviceID: deviceID, Payload: map[string]interface{}{}, TS: h.now().UTC()}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() { h.remove(sub) })
	}
	return sub.ch, cancel
}

// Subscribers returns the number of live subscribers
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Publish stamps the next revision on an event and delivers it
func (h *Hub) Publish(eventType, deviceID string, payload map[string]interface{}) Event {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	event := Event{
		Type:     eventType,
		Revision: h.revision.Add(1),
		DeviceID: deviceID,
		Payload:  payload,
		TS:       h.now().UTC(),
	}
	h.deliver(event)
	return event
}

// Forward delivers an event that was already stamped elsewhere, such as one
// relayed from Redis. The local revision never moves backwards.
func (h *Hub) Forward(event Event) {
	for {
		current := h.revision.Load()
		if event.Revision <= current || h.revision.CompareAndSwap(current, event.Revision) {
			break
		}
	}
	h.deliver(event)
}

// NotifyPlanChanged publishes a plan change for one device
func (h *Hub) NotifyPlanChanged(ctx context.Context, deviceID, reason string) error {
	h.Publish(EventSyncPlanChanged, deviceID, map[string]interface{}{"reason": reason})
	return nil
}

func (h *Hub) deliver(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs {
		if sub.deviceID != "" && sub.deviceID != event.DeviceID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			delete(h.subs, sub)
			close(sub.ch)
		}
	}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.ch)
	}
}
