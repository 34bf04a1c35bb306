package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is the envelope every subscriber receives, regardless of the
// concrete EventData type carried in Data.
type Event struct {
	ID        string // unique per emission, for correlating a log line with an /events poll entry
	Type      EventType
	Source    string // component that emitted the event, e.g. an exchange id
	Timestamp time.Time
	Data      EventData
}

// Bus is an in-process fan-out publish/subscribe point. Subscribers each
// get their own buffered channel; a slow subscriber drops events rather
// than blocking the emitter, since nothing in this engine's correctness
// depends on every subscriber seeing every event.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]chan Event
	nextID      int
}

// NewBus returns an empty, ready-to-use Bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[int]chan Event)}
}

// Subscribe registers a new listener with the given channel buffer size
// and returns the channel plus an unsubscribe function. Callers must call
// unsubscribe exactly once, typically via defer.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	b.subscribers[id] = ch
	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(c)
		}
	}
	return ch, unsubscribe
}

// Emit sends an event to every current subscriber without blocking and
// returns the envelope it built, so callers that also want to retain it
// (Manager's poll history) don't have to rebuild the timestamp.
func (b *Bus) Emit(eventType EventType, source string, data EventData) Event {
	ev := Event{ID: uuid.New().String(), Type: eventType, Source: source, Timestamp: time.Now(), Data: data}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
	return ev
}
