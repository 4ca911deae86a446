package diag

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hotfire-labs/blastwatch/internal/model"
)

// EventLogger writes structured events as one JSON object per line on the
// event channel.
type EventLogger struct {
	logger *slog.Logger
	sink   func(model.LogRecord) bool
}

// NewEventLogger creates an event logger enqueueing through sink.
func NewEventLogger(sink func(model.LogRecord) bool, logger *slog.Logger) *EventLogger {
	return &EventLogger{logger: logger, sink: sink}
}

type eventLine struct {
	Timestamp time.Time      `json:"timestamp"`
	EventType string         `json:"event_type"`
	Severity  string         `json:"severity"`
	Details   map[string]any `json:"details,omitempty"`
}

// Log enqueues one event. Marshal failures are logged and the event dropped;
// nothing propagates to the caller.
func (e *EventLogger) Log(eventType string, severity model.Level, details map[string]any) {
	now := time.Now()
	raw, err := json.Marshal(eventLine{
		Timestamp: now.UTC(),
		EventType: eventType,
		Severity:  severity.String(),
		Details:   details,
	})
	if err != nil {
		e.logger.Error("diag: event marshal failed", "event_type", eventType, "error", err)
		return
	}
	e.sink(model.LogRecord{
		Channel: model.ChannelEvent,
		Level:   severity,
		Time:    now,
		Message: string(raw),
		Raw:     true,
	})
}
