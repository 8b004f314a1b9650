package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/ingotlab/ingot/internal/events"
)

// EventStreamHandler pushes system events to websocket clients.
//
// It subscribes to the event bus once at construction and fans events out
// to every connected client. A slow client's buffer fills and drops events
// rather than blocking the emitter.
type EventStreamHandler struct {
	log zerolog.Logger

	mu      sync.Mutex
	clients map[chan *events.Event]struct{}
}

// NewEventStreamHandler creates the handler and subscribes it to the bus
func NewEventStreamHandler(bus *events.Bus, log zerolog.Logger) *EventStreamHandler {
	h := &EventStreamHandler{
		log:     log.With().Str("component", "events_ws").Logger(),
		clients: make(map[chan *events.Event]struct{}),
	}

	for _, t := range []events.EventType{
		events.PricesSynced,
		events.AssetAdded,
		events.AssetRemoved,
		events.BackupCompleted,
	} {
		bus.Subscribe(t, h.broadcast)
	}

	return h
}

// broadcast delivers one event to every connected client without blocking.
func (h *EventStreamHandler) broadcast(ev *events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.clients {
		select {
		case ch <- ev:
		default:
			h.log.Warn().Str("event", string(ev.Type)).Msg("Client buffer full, dropping event")
		}
	}
}

// ServeHTTP upgrades the connection and streams events until the client
// disconnects.
func (h *EventStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	ch := make(chan *events.Event, 16)
	h.addClient(ch)
	defer h.removeClient(ch)

	h.log.Debug().Msg("Websocket client connected")

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev := <-ch:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, ev)
			cancel()
			if err != nil {
				h.log.Debug().Err(err).Msg("Websocket client disconnected")
				return
			}
		}
	}
}

func (h *EventStreamHandler) addClient(ch chan *events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[ch] = struct{}{}
}

func (h *EventStreamHandler) removeClient(ch chan *events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, ch)
}
