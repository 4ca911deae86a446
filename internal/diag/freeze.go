package diag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/hotfire-labs/blastwatch/internal/model"
)

// FreezeDetector watches for stalls in the main read/serve loop. The loop
// calls Heartbeat on every iteration; a background watchdog compares
// now − last-heartbeat against the threshold and, on the first crossing,
// captures goroutine stacks, the recent-operations ring, and process
// resource counters into one freeze_dump_<N>.json. No second dump is
// written until a heartbeat brings the state back to healthy.
type FreezeDetector struct {
	logger    *slog.Logger
	session   *RunSession
	sink      func(model.LogRecord) bool
	threshold time.Duration
	period    time.Duration
	dumpOps   int

	mu          sync.Mutex
	lastBeat    time.Time
	frozen      bool
	frozeAt     time.Time
	frozeGap    time.Duration // heartbeat gap measured at detection
	freezeCount int
	ops         []model.RecentOperation
	opsNext     int
	opsFull     bool

	done chan struct{}
}

// FreezeConfig tunes the detector.
type FreezeConfig struct {
	Threshold     time.Duration
	CheckPeriod   time.Duration
	RecentOpsSize int
	DumpOps       int
}

// NewFreezeDetector creates a detector writing dumps into the session's run
// directory and CRITICAL records through sink (the queue's Enqueue).
func NewFreezeDetector(session *RunSession, sink func(model.LogRecord) bool, logger *slog.Logger, cfg FreezeConfig) *FreezeDetector {
	return &FreezeDetector{
		logger:    logger,
		session:   session,
		sink:      sink,
		threshold: cfg.Threshold,
		period:    cfg.CheckPeriod,
		dumpOps:   cfg.DumpOps,
		lastBeat:  time.Now(),
		ops:       make([]model.RecentOperation, cfg.RecentOpsSize),
		done:      make(chan struct{}),
	}
}

// Start launches the watchdog goroutine. It exits when ctx is cancelled.
func (d *FreezeDetector) Start(ctx context.Context) {
	go d.watch(ctx)
}

// Heartbeat records one hot-loop iteration: it stores the operation in the
// bounded recent-operations ring and resets the stall clock. Short critical
// section only; no I/O.
func (d *FreezeDetector) Heartbeat(operation string, details map[string]any) {
	now := time.Now()
	entry := model.RecentOperation{
		Timestamp: float64(now.UnixNano()) / 1e9,
		Operation: operation,
		Details:   details,
		Thread:    goroutineLabel(),
	}

	d.mu.Lock()
	d.lastBeat = now
	if len(d.ops) > 0 {
		d.ops[d.opsNext] = entry
		d.opsNext++
		if d.opsNext == len(d.ops) {
			d.opsNext = 0
			d.opsFull = true
		}
	}
	d.mu.Unlock()
}

func (d *FreezeDetector) watch(ctx context.Context) {
	ticker := time.NewTicker(d.period)
	defer ticker.Stop()
	defer close(d.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.check(time.Now())
		}
	}
}

// check runs one watchdog tick against the given time.
func (d *FreezeDetector) check(now time.Time) {
	d.mu.Lock()
	gap := now.Sub(d.lastBeat)

	if d.frozen {
		if gap <= d.threshold {
			// Total stall: the gap already open at detection plus the frozen
			// time from detection to the resume beat.
			stall := d.lastBeat.Sub(d.frozeAt) + d.frozeGap
			d.frozen = false
			d.mu.Unlock()
			d.logger.Warn("diag: heartbeat resumed after freeze", "stalled_for", stall)
			d.sink(model.LogRecord{
				Channel: model.ChannelApp,
				Level:   model.LevelWarning,
				Time:    now,
				Message: "heartbeat resumed after freeze",
				Payload: map[string]any{"stalled_for_seconds": stall.Seconds()},
			})
			return
		}
		d.mu.Unlock()
		return
	}

	if gap <= d.threshold {
		d.mu.Unlock()
		return
	}

	// First crossing into frozen: capture synchronously while holding only
	// what we need. Stacks must be taken at detection time; the stall's cause
	// may prevent later introspection.
	d.frozen = true
	d.frozeAt = now
	d.frozeGap = gap
	d.freezeCount++
	count := d.freezeCount
	recent := d.recentOpsLocked()
	d.mu.Unlock()

	event := model.FreezeEvent{
		Timestamp:          now.UTC(),
		FreezeCount:        count,
		TimeSinceHeartbeat: gap.Seconds(),
		ThreadInfo:         captureGoroutines(),
		RecentOperations:   recent,
		SystemInfo:         captureSystemInfo(),
	}
	d.writeDump(event)
}

// recentOpsLocked copies the most recent dumpOps entries, oldest first.
// Caller holds d.mu.
func (d *FreezeDetector) recentOpsLocked() []model.RecentOperation {
	var ordered []model.RecentOperation
	if d.opsFull {
		ordered = append(ordered, d.ops[d.opsNext:]...)
		ordered = append(ordered, d.ops[:d.opsNext]...)
	} else {
		ordered = append(ordered, d.ops[:d.opsNext]...)
	}
	if len(ordered) > d.dumpOps {
		ordered = ordered[len(ordered)-d.dumpOps:]
	}
	return ordered
}

func (d *FreezeDetector) writeDump(event model.FreezeEvent) {
	path := filepath.Join(d.session.Dir, fmt.Sprintf("freeze_dump_%d.json", event.FreezeCount))
	raw, err := json.MarshalIndent(event, "", "  ")
	if err == nil {
		err = os.WriteFile(path, raw, 0o644)
	}
	if err != nil {
		d.logger.Error("diag: freeze dump write failed", "path", path, "error", err)
	}

	d.logger.Error("diag: main loop freeze detected",
		"freeze_count", event.FreezeCount,
		"time_since_heartbeat", event.TimeSinceHeartbeat,
		"dump", path,
	)
	d.sink(model.LogRecord{
		Channel: model.ChannelError,
		Level:   model.LevelCritical,
		Time:    event.Timestamp,
		Message: "main loop freeze detected",
		Payload: map[string]any{
			"freeze_count":         event.FreezeCount,
			"time_since_heartbeat": event.TimeSinceHeartbeat,
			"dump":                 filepath.Base(path),
		},
	})
}

// Frozen reports the current state and the stall count for this run.
func (d *FreezeDetector) Frozen() (bool, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frozen, d.freezeCount
}

// captureGoroutines snapshots every goroutine's stack. Goroutines map onto
// the dump's thread entries; Go has no daemon threads, so daemon is always
// false, and a captured goroutine is by definition alive.
func captureGoroutines() []model.ThreadInfo {
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	blocks := strings.Split(strings.TrimSpace(string(buf[:n])), "\n\n")

	out := make([]model.ThreadInfo, 0, len(blocks))
	for _, block := range blocks {
		name := "goroutine"
		header, _, _ := strings.Cut(block, "\n")
		if fields := strings.Fields(header); len(fields) >= 2 && fields[0] == "goroutine" {
			name = "goroutine-" + fields[1]
		}
		out = append(out, model.ThreadInfo{
			Name:       name,
			Daemon:     false,
			Alive:      true,
			StackTrace: block,
		})
	}
	return out
}

// captureSystemInfo reads process resource counters. Each probe fails soft
// to a zero value; a freeze dump with partial system info is still a dump.
func captureSystemInfo() model.SystemInfo {
	info := model.SystemInfo{NumThreads: runtime.NumGoroutine()}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return info
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		info.MemoryMB = float64(mem.RSS) / (1024 * 1024)
	}
	if cpu, err := proc.CPUPercent(); err == nil {
		info.CPUPercent = cpu
	}
	if files, err := proc.OpenFiles(); err == nil {
		info.OpenFiles = len(files)
	}
	if conns, err := proc.Connections(); err == nil {
		info.Connections = len(conns)
	}
	return info
}

// goroutineLabel returns "goroutine-<id>" for the calling goroutine, parsed
// from the stack header.
func goroutineLabel() string {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) >= 2 && string(fields[0]) == "goroutine" {
		return "goroutine-" + string(fields[1])
	}
	return "goroutine"
}
