package diag

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hotfire-labs/blastwatch/internal/model"
)

// ClientTracker consumes heartbeat/visibility events pushed from browser
// tabs. Purely observational: it logs every event to the event channel,
// escalates throttling/suspension to an app-channel WARNING, and keeps the
// last-known state per tab so the health endpoint can distinguish "server
// stalled" from "that one tab stalled".
type ClientTracker struct {
	logger *slog.Logger
	events *EventLogger
	sink   func(model.LogRecord) bool

	mu      sync.RWMutex
	clients map[string]*model.Client
}

// NewClientTracker creates a tracker logging through the event logger.
func NewClientTracker(events *EventLogger, sink func(model.LogRecord) bool, logger *slog.Logger) *ClientTracker {
	return &ClientTracker{
		logger:  logger,
		events:  events,
		sink:    sink,
		clients: make(map[string]*model.Client),
	}
}

// RecordClientEvent logs one browser status event and updates the tab's
// last-known state. Degraded event types additionally warn on the app channel.
func (t *ClientTracker) RecordClientEvent(ev model.ClientStatusEvent) {
	now := time.Now()

	severity := model.LevelInfo
	if ev.EventType.Degraded() {
		severity = model.LevelWarning
	}
	t.events.Log("client_"+string(ev.EventType), severity, map[string]any{
		"client_id":        ev.ClientID,
		"client_timestamp": ev.ClientTimestamp,
		"visible":          ev.Visible,
		"throttled":        ev.Throttled,
		"extra":            ev.Extra,
	})

	if ev.EventType.Degraded() {
		t.logger.Warn("diag: client degraded", "client_id", ev.ClientID, "event_type", ev.EventType)
		t.sink(model.LogRecord{
			Channel: model.ChannelApp,
			Level:   model.LevelWarning,
			Time:    now,
			Message: "browser client degraded",
			Payload: map[string]any{"client_id": ev.ClientID, "event_type": string(ev.EventType)},
		})
	}

	t.mu.Lock()
	c, ok := t.clients[ev.ClientID]
	if !ok {
		c = &model.Client{}
		t.clients[ev.ClientID] = c
	}
	c.LastSeen = now
	c.Visible = ev.Visible
	c.Throttled = ev.Throttled
	c.LastEvent = ev.EventType
	t.mu.Unlock()
}

// Clients returns a copy of the per-tab state map.
func (t *ClientTracker) Clients() map[string]*model.Client {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]*model.Client, len(t.clients))
	for id, c := range t.clients {
		copied := *c
		out[id] = &copied
	}
	return out
}
