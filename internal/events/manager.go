package events

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
)

// historyLimit bounds the in-memory event ring the status API polls —
// enough for a dashboard to catch up after a few seconds offline without
// holding the process's whole event history in memory.
const historyLimit = 500

// Manager wraps a Bus with structured logging: every emission is also
// written to the process log at info level, so log-shipping gives an
// audit trail independent of whatever is or isn't subscribed at the time.
// It also keeps a bounded ring of recent events for poll-based readers
// (the status API's /events endpoint) that don't want to hold an open
// Bus subscription.
type Manager struct {
	bus *Bus
	log zerolog.Logger

	mu      sync.Mutex
	history []Event
}

// NewManager wraps bus with a logger.
func NewManager(bus *Bus, log zerolog.Logger) *Manager {
	return &Manager{bus: bus, log: log}
}

// Bus returns the underlying Bus for direct subscription.
func (m *Manager) Bus() *Bus { return m.bus }

// Emit publishes data and logs it.
func (m *Manager) Emit(eventType EventType, source string, data EventData) {
	ev := m.bus.Emit(eventType, source, data)

	m.mu.Lock()
	m.history = append(m.history, ev)
	if len(m.history) > historyLimit {
		m.history = m.history[len(m.history)-historyLimit:]
	}
	m.mu.Unlock()

	entry := m.log.Info().Str("event_id", ev.ID).Str("event_type", string(eventType)).Str("source", source)
	if payload, err := json.Marshal(data); err == nil {
		entry = entry.RawJSON("data", payload)
	}
	entry.Msg("event emitted")
}

// Recent returns up to n of the most recently emitted events, oldest
// first. n <= 0 returns the full retained history.
func (m *Manager) Recent(n int) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= 0 || n >= len(m.history) {
		out := make([]Event, len(m.history))
		copy(out, m.history)
		return out
	}
	out := make([]Event, n)
	copy(out, m.history[len(m.history)-n:])
	return out
}
