// Package model defines the core data types shared across the blastwatch server:
// sensor frames, diagnostic log records, freeze dumps, and API envelopes.
package model

import "time"

// Channel identifies one named, independently-rotated log stream within a run.
type Channel string

// Log channels. Each maps to one rotating file under the run directory.
const (
	ChannelApp         Channel = "app"
	ChannelError       Channel = "error"
	ChannelEvent       Channel = "event"
	ChannelPerformance Channel = "performance"
	ChannelSerial      Channel = "serial"
	ChannelData        Channel = "data"
)

// Channels lists every log channel in a stable order.
var Channels = []Channel{
	ChannelApp,
	ChannelError,
	ChannelEvent,
	ChannelPerformance,
	ChannelSerial,
	ChannelData,
}

// Valid reports whether c names a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelApp, ChannelError, ChannelEvent, ChannelPerformance, ChannelSerial, ChannelData:
		return true
	}
	return false
}

// Level is the severity of a log record.
type Level int8

// Severity levels, lowest to highest.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
	LevelCritical
)

// String returns the conventional upper-case level name.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	case LevelCritical:
		return "CRITICAL"
	}
	return "UNKNOWN"
}

// LogRecord is one immutable diagnostic record. The producer owns it until
// enqueued; after that it belongs to the queue until exactly one channel
// writer drains it. Raw is set for channels that carry pre-serialized lines
// (event, performance, data); plain-text channels format from the remaining
// fields.
type LogRecord struct {
	Channel Channel
	Level   Level
	Time    time.Time
	Message string
	Payload map[string]any
	Raw     bool
}
