// Package reader runs the sensor acquisition loop: it polls the data source
// at a fixed cadence, applies calibration offsets, publishes the latest
// snapshot for the HTTP layer, and feeds the diagnostics subsystem with data
// rows, threshold events, heartbeats, and timing samples.
package reader

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hotfire-labs/blastwatch/internal/config"
	"github.com/hotfire-labs/blastwatch/internal/model"
	"github.com/hotfire-labs/blastwatch/internal/source"
)

// Sink is the slice of the diagnostics context the reader loop needs.
type Sink interface {
	Logf(channel model.Channel, level model.Level, msg string, payload map[string]any)
	Event(eventType string, severity model.Level, details map[string]any)
	WriteData(frame model.SensorFrame)
	Heartbeat(operation string, details map[string]any)
	Record(name string, value float64)
}

// Calibrator applies per-sensor offsets to a frame.
type Calibrator interface {
	Apply(frame model.SensorFrame) model.SensorFrame
}

// Reader polls a DataSource and fans each frame out to the cache and the
// diagnostics sink. One Reader runs per process.
type Reader struct {
	src      source.DataSource
	cal      Calibrator
	sink     Sink
	cache    *Cache
	watcher  *thresholdWatcher
	counts   model.SensorCounts
	interval time.Duration
	logger   *slog.Logger

	frames atomic.Int64
}

// New wires a reader. The source must already be initialized.
func New(src source.DataSource, cal Calibrator, sink Sink, cache *Cache, sensors config.Sensors, interval time.Duration, logger *slog.Logger) *Reader {
	return &Reader{
		src:      src,
		cal:      cal,
		sink:     sink,
		cache:    cache,
		watcher:  newThresholdWatcher(sensors),
		counts:   sensors.Counts(),
		interval: interval,
		logger:   logger,
	}
}

// Run executes the acquisition loop until ctx is cancelled. Read and parse
// failures are logged and survived; the cache keeps serving the last good
// snapshot across them.
func (r *Reader) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reader) tick(ctx context.Context) {
	start := time.Now()
	frame, err := r.src.ReadFrame(ctx)
	switch {
	case errors.Is(err, source.ErrNoData):
		r.sink.Heartbeat("sensor_read", map[string]any{"status": "no_data"})
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return
	case err != nil:
		r.logger.Warn("reader: read failed", "error", err)
		r.sink.Logf(model.ChannelError, model.LevelError, "sensor read failed", map[string]any{"error": err.Error()})
		r.sink.Heartbeat("sensor_read", map[string]any{"status": "error"})
		return
	}

	if err := frame.Validate(r.counts); err != nil {
		r.logger.Warn("reader: frame rejected", "error", err)
		r.sink.Logf(model.ChannelError, model.LevelError, "frame rejected", map[string]any{"error": err.Error()})
		r.sink.Heartbeat("sensor_read", map[string]any{"status": "invalid_frame"})
		return
	}

	adjusted := r.cal.Apply(frame)
	r.cache.Store(model.Snapshot{Raw: frame, Adjusted: adjusted, UpdatedAt: frame.ReceivedAt})
	r.sink.WriteData(adjusted)
	r.watcher.check(adjusted, r.sink)

	n := r.frames.Add(1)
	r.sink.Record("sensor_read_ms", float64(time.Since(start))/float64(time.Millisecond))
	r.sink.Heartbeat("sensor_read", map[string]any{"frame": n})
}

// Frames returns the number of frames accepted so far.
func (r *Reader) Frames() int64 { return r.frames.Load() }
