package diag

import (
	"context"
	"log/slog"
	"time"

	"github.com/hotfire-labs/blastwatch/internal/config"
	"github.com/hotfire-labs/blastwatch/internal/model"
)

// Diagnostics is the single per-process diagnostics context. It owns the run
// session, the queue, and the background monitors, and is injected into the
// reader loop and the HTTP layer at startup. Construct with New, start the
// background work with Start, tear down with Close.
type Diagnostics struct {
	logger  *slog.Logger
	session *RunSession
	queue   *Queue
	events  *EventLogger
	freeze  *FreezeDetector
	perf    *PerfRecorder
	clients *ClientTracker

	drainTimeout time.Duration
}

// New builds the diagnostics context: starts a run directory, opens the
// channel writers, and wires the monitors. No goroutines run until Start.
func New(cfg config.Config, counts model.SensorCounts, logger *slog.Logger) (*Diagnostics, error) {
	session, err := StartRun(cfg.LogRoot, counts, WriterConfig{
		MaxBytes:   cfg.WriterMaxBytes,
		MaxBackups: cfg.WriterMaxBackups,
	}, logger)
	if err != nil {
		return nil, err
	}

	queue := NewQueue(session, logger, cfg.QueueCapacity)
	events := NewEventLogger(queue.Enqueue, logger)
	freeze := NewFreezeDetector(session, queue.Enqueue, logger, FreezeConfig{
		Threshold:     cfg.FreezeThreshold,
		CheckPeriod:   cfg.FreezeCheckPeriod,
		RecentOpsSize: cfg.RecentOpsSize,
		DumpOps:       cfg.FreezeDumpOps,
	})
	perf := NewPerfRecorder(queue.Enqueue, logger, PerfConfig{
		FlushInterval:    cfg.PerfFlushInterval,
		SystemSampleRate: cfg.SystemSampleRate,
		HighMemoryWarnMB: cfg.HighMemoryWarnMB,
	})
	clients := NewClientTracker(events, queue.Enqueue, logger)

	return &Diagnostics{
		logger:       logger,
		session:      session,
		queue:        queue,
		events:       events,
		freeze:       freeze,
		perf:         perf,
		clients:      clients,
		drainTimeout: cfg.ShutdownDrainTimeout,
	}, nil
}

// Start launches the draining worker, the freeze watchdog, and the
// performance timers. The monitors exit when ctx is cancelled; the worker
// runs until Close drains it.
func (d *Diagnostics) Start(ctx context.Context) {
	d.queue.Start()
	d.freeze.Start(ctx)
	d.perf.Start(ctx)
	d.Logf(model.ChannelApp, model.LevelInfo, "run started", map[string]any{"run_id": d.session.ID})
}

// Close drains the queue within the shutdown grace period, then flushes and
// closes every channel writer. Idempotent through the session.
func (d *Diagnostics) Close(ctx context.Context) error {
	d.Logf(model.ChannelApp, model.LevelInfo, "run ending", map[string]any{
		"written": d.queue.Written(),
		"dropped": d.queue.Dropped(),
	})
	drainCtx, cancel := context.WithTimeout(ctx, d.drainTimeout)
	defer cancel()
	d.queue.Drain(drainCtx)
	return d.session.Close()
}

// Logf enqueues one plain-text record. Never blocks.
func (d *Diagnostics) Logf(channel model.Channel, level model.Level, msg string, payload map[string]any) {
	d.queue.Enqueue(model.LogRecord{
		Channel: channel,
		Level:   level,
		Time:    time.Now(),
		Message: msg,
		Payload: payload,
	})
}

// Event logs one structured event to the event channel.
func (d *Diagnostics) Event(eventType string, severity model.Level, details map[string]any) {
	d.events.Log(eventType, severity, details)
}

// Serial logs one raw wire line (direction "RX" or "TX") to the serial channel.
func (d *Diagnostics) Serial(direction, line string) {
	d.queue.Enqueue(model.LogRecord{
		Channel: model.ChannelSerial,
		Level:   model.LevelInfo,
		Time:    time.Now(),
		Message: direction + " " + line,
	})
}

// WriteData enqueues one CSV row on the data channel.
func (d *Diagnostics) WriteData(frame model.SensorFrame) {
	d.queue.Enqueue(model.LogRecord{
		Channel: model.ChannelData,
		Level:   model.LevelInfo,
		Time:    frame.ReceivedAt,
		Message: frame.CSVRow(),
		Raw:     true,
	})
}

// Heartbeat forwards a hot-loop liveness signal to the freeze detector.
func (d *Diagnostics) Heartbeat(operation string, details map[string]any) {
	d.freeze.Heartbeat(operation, details)
}

// Record forwards one performance sample to the recorder.
func (d *Diagnostics) Record(name string, value float64) {
	d.perf.Record(name, value)
}

// RecordClientEvent forwards one browser status event to the tracker.
func (d *Diagnostics) RecordClientEvent(ev model.ClientStatusEvent) {
	d.clients.RecordClientEvent(ev)
}

// Health is a point-in-time diagnostic summary for the health endpoint.
type Health struct {
	RunID            string
	Frozen           bool
	FreezeCount      int
	QueueDepth       int
	Dropped          int64
	DegradedChannels []string
	Clients          map[string]*model.Client
	StartedAt        time.Time
}

// Health snapshots the subsystem's state.
func (d *Diagnostics) Health() Health {
	frozen, count := d.freeze.Frozen()
	return Health{
		RunID:            d.session.ID,
		Frozen:           frozen,
		FreezeCount:      count,
		QueueDepth:       d.queue.Len(),
		Dropped:          d.queue.Dropped(),
		DegradedChannels: d.session.DegradedChannels(),
		Clients:          d.clients.Clients(),
		StartedAt:        d.session.StartedAt,
	}
}

// Session exposes the run session for the ledger and tests.
func (d *Diagnostics) Session() *RunSession { return d.session }

// Stats returns the queue's written/dropped totals for the run ledger.
func (d *Diagnostics) Stats() (written, dropped int64) {
	return d.queue.Written(), d.queue.Dropped()
}
