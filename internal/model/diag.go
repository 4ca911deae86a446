package model

import (
	"fmt"
	"time"
)

// PerformanceMetric is the rolling aggregate for one named operation.
// Updated in place on every sample; cumulative for the process lifetime.
type PerformanceMetric struct {
	Count int64
	Min   float64
	Max   float64
	Sum   float64
	Last  float64
}

// Average returns Sum/Count, or 0 before any sample.
func (m PerformanceMetric) Average() float64 {
	if m.Count == 0 {
		return 0
	}
	return m.Sum / float64(m.Count)
}

// MetricStats is the wire form of one metric inside a performance flush.
type MetricStats struct {
	Count   int64   `json:"count"`
	Average float64 `json:"average"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Last    float64 `json:"last"`
}

// PerformanceFlush is the JSON object written to the performance channel
// on every flush interval.
type PerformanceFlush struct {
	Timestamp time.Time              `json:"timestamp"`
	Metrics   map[string]MetricStats `json:"metrics"`
}

// FreezeEvent is the diagnostic dump captured when the main read/serve loop
// stops heartbeating. Persisted once per stall as freeze_dump_<N>.json and
// never mutated.
type FreezeEvent struct {
	Timestamp          time.Time         `json:"timestamp"`
	FreezeCount        int               `json:"freeze_count"`
	TimeSinceHeartbeat float64           `json:"time_since_heartbeat"`
	ThreadInfo         []ThreadInfo      `json:"thread_info"`
	RecentOperations   []RecentOperation `json:"recent_operations"`
	SystemInfo         SystemInfo        `json:"system_info"`
}

// ThreadInfo is one goroutine's state at capture time.
type ThreadInfo struct {
	Name       string `json:"name"`
	Daemon     bool   `json:"daemon"`
	Alive      bool   `json:"alive"`
	StackTrace string `json:"stack_trace"`
}

// RecentOperation is one entry from the heartbeat ring: what the hot loop
// was doing shortly before the stall.
type RecentOperation struct {
	Timestamp float64        `json:"timestamp"`
	Operation string         `json:"operation"`
	Details   map[string]any `json:"details"`
	Thread    string         `json:"thread"`
}

// SystemInfo is a point-in-time process resource snapshot.
type SystemInfo struct {
	MemoryMB    float64 `json:"memory_mb"`
	CPUPercent  float64 `json:"cpu_percent"`
	NumThreads  int     `json:"num_threads"`
	OpenFiles   int     `json:"open_files"`
	Connections int     `json:"connections"`
}

// ClientEventType classifies a browser status/heartbeat event.
type ClientEventType string

// Client event types pushed from browser tabs.
const (
	ClientInitialized       ClientEventType = "initialized"
	ClientPageVisible       ClientEventType = "page_visible"
	ClientPageHidden        ClientEventType = "page_hidden"
	ClientPageHide          ClientEventType = "page_hide"
	ClientPageShow          ClientEventType = "page_show"
	ClientWindowBlur        ClientEventType = "window_blur"
	ClientWindowFocus       ClientEventType = "window_focus"
	ClientThrottled         ClientEventType = "throttled"
	ClientThrottleRecovered ClientEventType = "throttle_recovered"
	ClientHighMemory        ClientEventType = "high_memory"
	ClientMainThreadBlocked ClientEventType = "main_thread_blocked"
	ClientFrameDrops        ClientEventType = "frame_drops"
	ClientIrregularFrames   ClientEventType = "irregular_frames"
	ClientSuspended         ClientEventType = "suspended"
	ClientResumed           ClientEventType = "resumed"
)

var clientEventTypes = map[ClientEventType]bool{
	ClientInitialized:       true,
	ClientPageVisible:       true,
	ClientPageHidden:        true,
	ClientPageHide:          true,
	ClientPageShow:          true,
	ClientWindowBlur:        true,
	ClientWindowFocus:       true,
	ClientThrottled:         true,
	ClientThrottleRecovered: true,
	ClientHighMemory:        true,
	ClientMainThreadBlocked: true,
	ClientFrameDrops:        true,
	ClientIrregularFrames:   true,
	ClientSuspended:         true,
	ClientResumed:           true,
}

// Degraded reports whether this event type indicates the tab itself is
// throttled, suspended, or otherwise unable to render on time.
func (t ClientEventType) Degraded() bool {
	switch t {
	case ClientThrottled, ClientSuspended, ClientMainThreadBlocked,
		ClientFrameDrops, ClientHighMemory, ClientIrregularFrames:
		return true
	}
	return false
}

// ClientStatusEvent is one liveness/visibility report from a browser tab.
// Ephemeral: received, logged, discarded.
type ClientStatusEvent struct {
	ClientID        string          `json:"client_id"`
	EventType       ClientEventType `json:"event_type"`
	ClientTimestamp float64         `json:"client_timestamp"`
	Visible         bool            `json:"visible"`
	Throttled       bool            `json:"throttled"`
	Extra           map[string]any  `json:"extra,omitempty"`
}

// Validate checks the event type against the closed set.
func (e ClientStatusEvent) Validate() error {
	if e.ClientID == "" {
		return fmt.Errorf("client event: client_id is required")
	}
	if !clientEventTypes[e.EventType] {
		return fmt.Errorf("client event: unknown event_type %q", e.EventType)
	}
	return nil
}

// RunRecord is one row in the run ledger: a record of a process run and its
// diagnostic totals.
type RunRecord struct {
	RunID     string     `json:"run_id"`
	Dir       string     `json:"dir"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Frames    int64      `json:"frames"`
	Drops     int64      `json:"drops"`
	Freezes   int64      `json:"freezes"`
}
