package diag

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/hotfire-labs/blastwatch/internal/model"
)

// PerfRecorder aggregates count/min/max/sum/last per named operation and
// flushes the full snapshot to the performance channel on a timer. Metrics
// are cumulative for the process lifetime; log consumers wanting per-interval
// rates diff successive flushes themselves.
type PerfRecorder struct {
	logger        *slog.Logger
	sink          func(model.LogRecord) bool
	flushInterval time.Duration
	sampleRate    time.Duration
	highMemMB     float64

	mu      sync.Mutex
	metrics map[string]*model.PerformanceMetric

	memWarned bool
	proc      *process.Process
}

// PerfConfig tunes the recorder.
type PerfConfig struct {
	FlushInterval    time.Duration
	SystemSampleRate time.Duration
	HighMemoryWarnMB float64
}

// NewPerfRecorder creates a recorder flushing through sink (the queue's Enqueue).
func NewPerfRecorder(sink func(model.LogRecord) bool, logger *slog.Logger, cfg PerfConfig) *PerfRecorder {
	proc, _ := process.NewProcess(int32(os.Getpid()))
	return &PerfRecorder{
		logger:        logger,
		sink:          sink,
		flushInterval: cfg.FlushInterval,
		sampleRate:    cfg.SystemSampleRate,
		highMemMB:     cfg.HighMemoryWarnMB,
		metrics:       make(map[string]*model.PerformanceMetric),
		proc:          proc,
	}
}

// Start launches the flush and system-sampling goroutines. Both exit when
// ctx is cancelled; the flush loop writes one final snapshot on the way out.
func (r *PerfRecorder) Start(ctx context.Context) {
	go r.flushLoop(ctx)
	go r.systemLoop(ctx)
}

// Record folds one sample into the named metric in O(1). Safe from any
// goroutine; the critical section does no I/O.
func (r *PerfRecorder) Record(name string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.metrics[name]
	if !ok {
		r.metrics[name] = &model.PerformanceMetric{Count: 1, Min: value, Max: value, Sum: value, Last: value}
		return
	}
	m.Count++
	m.Sum += value
	m.Last = value
	if value < m.Min {
		m.Min = value
	}
	if value > m.Max {
		m.Max = value
	}
}

// Snapshot returns a copy of every metric.
func (r *PerfRecorder) Snapshot() map[string]model.PerformanceMetric {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]model.PerformanceMetric, len(r.metrics))
	for name, m := range r.metrics {
		out[name] = *m
	}
	return out
}

func (r *PerfRecorder) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.flush(time.Now())
			return
		case t := <-ticker.C:
			r.flush(t)
		}
	}
}

// flush serializes the current snapshot as one JSON object and enqueues it
// on the performance channel.
func (r *PerfRecorder) flush(now time.Time) {
	snap := r.Snapshot()
	if len(snap) == 0 {
		return
	}

	out := model.PerformanceFlush{
		Timestamp: now.UTC(),
		Metrics:   make(map[string]model.MetricStats, len(snap)),
	}
	for name, m := range snap {
		out.Metrics[name] = model.MetricStats{
			Count:   m.Count,
			Average: m.Average(),
			Min:     m.Min,
			Max:     m.Max,
			Last:    m.Last,
		}
	}

	raw, err := json.Marshal(out)
	if err != nil {
		r.logger.Error("diag: perf flush marshal failed", "error", err)
		return
	}
	r.sink(model.LogRecord{
		Channel: model.ChannelPerformance,
		Level:   model.LevelInfo,
		Time:    now,
		Message: string(raw),
		Raw:     true,
	})
}

// systemLoop samples process memory, CPU, and goroutine count into the
// metric map so they land in every performance flush and freeze dump window.
func (r *PerfRecorder) systemLoop(ctx context.Context) {
	ticker := time.NewTicker(r.sampleRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sampleSystem(time.Now())
		}
	}
}

func (r *PerfRecorder) sampleSystem(now time.Time) {
	r.Record("num_goroutines", float64(runtime.NumGoroutine()))
	if r.proc == nil {
		return
	}
	if mem, err := r.proc.MemoryInfo(); err == nil && mem != nil {
		memMB := float64(mem.RSS) / (1024 * 1024)
		r.Record("memory_mb", memMB)
		r.checkHighMemory(memMB, now)
	}
	if cpu, err := r.proc.CPUPercent(); err == nil {
		r.Record("cpu_percent", cpu)
	}
}

// checkHighMemory emits one WARNING to the app channel when resident memory
// crosses the configured ceiling, re-arming after it falls back below 90%.
func (r *PerfRecorder) checkHighMemory(memMB float64, now time.Time) {
	if r.highMemMB <= 0 {
		return
	}
	r.mu.Lock()
	warned := r.memWarned
	if memMB > r.highMemMB {
		r.memWarned = true
	} else if memMB < r.highMemMB*0.9 {
		r.memWarned = false
	}
	r.mu.Unlock()

	if memMB > r.highMemMB && !warned {
		r.logger.Warn("diag: high memory usage", "memory_mb", memMB, "limit_mb", r.highMemMB)
		r.sink(model.LogRecord{
			Channel: model.ChannelApp,
			Level:   model.LevelWarning,
			Time:    now,
			Message: "high memory usage",
			Payload: map[string]any{"memory_mb": memMB, "limit_mb": r.highMemMB},
		})
	}
}
