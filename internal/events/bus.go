// Package events provides the in-process event bus.
//
// Continuous-update notification is an observer layer on top of the sync
// and analytics components, never inside them: the pure functions stay
// pure, and listeners (websocket stream, scheduler triggers) subscribe here.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType identifies a kind of system event
type EventType string

const (
	// PricesSynced - a sync cycle committed at least one price update
	PricesSynced EventType = "PricesSynced"
	// AssetAdded - a new asset was created
	AssetAdded EventType = "AssetAdded"
	// AssetRemoved - an asset (and its history) was deleted
	AssetRemoved EventType = "AssetRemoved"
	// BackupCompleted - a backup bundle was exported or uploaded
	BackupCompleted EventType = "BackupCompleted"
)

// Event is one emitted occurrence with its payload
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Handler processes one event. Handlers run synchronously on the emitting
// goroutine and must not block.
type Handler func(*Event)

// Bus is a simple synchronous publish/subscribe event bus
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	log      zerolog.Logger
}

// NewBus creates a new event bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
		log:      log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers a handler for an event type
func (b *Bus) Subscribe(t EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// Emit publishes an event to all handlers registered for its type.
// The string signature keeps emitters decoupled from this package's
// constants (they can live behind a narrow interface).
func (b *Bus) Emit(event string, data any) {
	ev := &Event{
		Type:      EventType(event),
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[ev.Type]))
	copy(handlers, b.handlers[ev.Type])
	b.mu.RUnlock()

	b.log.Debug().
		Str("event", event).
		Int("handlers", len(handlers)).
		Msg("Emitting event")

	for _, h := range handlers {
		h(ev)
	}
}
