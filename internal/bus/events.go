// Package bus is the in-process publish/subscribe hub that carries desk
// changes to realtime clients and other observers.
package bus

import (
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultHistory is how many events are kept for catch-up.
const DefaultHistory = 1000

// Event is one desk change.
type Event struct {
	Seq            uint64    // assigned by Emit, strictly increasing per bus
	Type           string    // e.g. "timeline.changed", "view.closed"
	Source         string    // originating component
	ConversationID string    // empty for desk-wide events
	Payload        any
	Timestamp      time.Time
}

// EventHandler is a callback for events.
type EventHandler func(Event)

type subscriber struct {
	id string
	fn EventHandler
}

// EventBus delivers events to handlers registered per type or with the "*"
// wildcard, and keeps a bounded history that clients can catch up from by
// sequence number.
type EventBus struct {
	logger *slog.Logger

	mu         sync.RWMutex
	handlers   map[string][]subscriber
	nextSub    uint64
	seq        uint64
	history    []Event
	maxHistory int
}

// NewEventBus creates a bus keeping DefaultHistory events.
func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		logger:     logger,
		handlers:   make(map[string][]subscriber),
		maxHistory: DefaultHistory,
	}
}

// On registers fn for eventType ("*" for every type) and returns the
// subscription id for Off.
func (eb *EventBus) On(eventType string, fn EventHandler) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextSub++
	id := eventType + "#" + strconv.FormatUint(eb.nextSub, 10)
	eb.handlers[eventType] = append(eb.handlers[eventType], subscriber{id: id, fn: fn})
	return id
}

// Off removes the subscription id. Unknown ids are ignored.
func (eb *EventBus) Off(id string) {
	eventType, _, ok := strings.Cut(id, "#")
	if !ok {
		return
	}
	eb.mu.Lock()
	defer eb.mu.Unlock()
	subs := eb.handlers[eventType]
	for i, s := range subs {
		if s.id == id {
			eb.handlers[eventType] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Emit stamps event with the next sequence number, records it and calls the
// matching handlers synchronously. A panicking handler is logged and skipped.
func (eb *EventBus) Emit(event Event) uint64 {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.Lock()
	eb.seq++
	event.Seq = eb.seq
	if len(eb.history) >= eb.maxHistory {
		eb.history = append(eb.history[:0], eb.history[1:]...)
	}
	eb.history = append(eb.history, event)
	subs := make([]subscriber, 0, len(eb.handlers[event.Type])+len(eb.handlers["*"]))
	subs = append(subs, eb.handlers[event.Type]...)
	subs = append(subs, eb.handlers["*"]...)
	eb.mu.Unlock()

	for _, s := range subs {
		eb.call(s, event)
	}
	return event.Seq
}

// EmitAsync emits event on a new goroutine. Used for notifications whose
// publisher must not wait for observers.
func (eb *EventBus) EmitAsync(event Event) {
	go eb.Emit(event)
}

func (eb *EventBus) call(s subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("event handler panic", "event", event.Type, "handler", s.id, "panic", r)
		}
	}()
	s.fn(event)
}

// Replay returns the recorded events of conversationID with a sequence
// number above afterSeq, oldest first, and the highest sequence number
// emitted so far. ok is false when events after afterSeq have already been
// dropped from the history, in which case the caller must resynchronise
// from current state.
func (eb *EventBus) Replay(conversationID string, afterSeq uint64) (events []Event, last uint64, ok bool) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if len(eb.history) > 0 && eb.history[0].Seq > afterSeq+1 {
		return nil, eb.seq, false
	}
	for _, e := range eb.history {
		if e.Seq > afterSeq && e.ConversationID == conversationID {
			events = append(events, e)
		}
	}
	return events, eb.seq, true
}

// LastSeq returns the sequence number of the latest event.
func (eb *EventBus) LastSeq() uint64 {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return eb.seq
}

const (
	EventTimelineChanged     = "timeline.changed"
	EventViewOpened          = "view.opened"
	EventViewChanged         = "view.changed"
	EventViewClosed          = "view.closed"
	EventConversationUpdated = "conversation.updated"
	EventLoginSucceeded      = "login.succeeded"
	EventLoginFailed         = "login.failed"
)
