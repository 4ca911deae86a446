package diag

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hotfire-labs/blastwatch/internal/model"
)

// runIDFormat derives the run directory name from the start time with
// second resolution.
const runIDFormat = "20060102_150405"

// RunSession owns one timestamped run directory and one rotating writer per
// channel. Created once at process start; writers are closed exactly once at
// shutdown.
type RunSession struct {
	ID        string
	Dir       string
	StartedAt time.Time

	writers   map[model.Channel]*channelWriter
	logger    *slog.Logger
	closeOnce sync.Once
	closeErr  error
}

// WriterConfig holds the rotation policy shared by all channel writers.
type WriterConfig struct {
	MaxBytes   int64
	MaxBackups int
}

// StartRun creates the run directory tree under logRoot, opens a rotating
// writer for every channel, and updates the "latest" pointer best-effort.
// A pointer failure is a warning, never a startup failure.
func StartRun(logRoot string, counts model.SensorCounts, cfg WriterConfig, logger *slog.Logger) (*RunSession, error) {
	now := time.Now()
	runID := "run_" + now.Format(runIDFormat)
	dir := filepath.Join(logRoot, runID)

	for _, sub := range []string{"errors", "events", "performance", "serial", "data"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("diag: create run directory: %w", err)
		}
	}

	paths := map[model.Channel]string{
		model.ChannelApp:         filepath.Join(dir, "app.log"),
		model.ChannelError:       filepath.Join(dir, "errors", "errors.log"),
		model.ChannelEvent:       filepath.Join(dir, "events", "events.log"),
		model.ChannelPerformance: filepath.Join(dir, "performance", "perf.log"),
		model.ChannelSerial:      filepath.Join(dir, "serial", "serial.log"),
		model.ChannelData:        filepath.Join(dir, "data", fmt.Sprintf("blast_data_%s.csv", now.Format(runIDFormat))),
	}

	writers := make(map[model.Channel]*channelWriter, len(paths))
	for channel, path := range paths {
		header := ""
		if channel == model.ChannelData {
			header = model.CSVHeader(counts)
		}
		w, err := newChannelWriter(channel, path, cfg.MaxBytes, cfg.MaxBackups, header)
		if err != nil {
			for _, opened := range writers {
				_ = opened.Close()
			}
			return nil, err
		}
		writers[channel] = w
	}

	s := &RunSession{
		ID:        runID,
		Dir:       dir,
		StartedAt: now,
		writers:   writers,
		logger:    logger,
	}
	s.updateLatestPointer(logRoot)
	return s, nil
}

// updateLatestPointer points <log_root>/latest at this run. Symlink first;
// where symlinks are unsupported, fall back to a plain file holding the run
// id. Both failing is only a warning.
func (s *RunSession) updateLatestPointer(logRoot string) {
	latest := filepath.Join(logRoot, "latest")
	_ = os.Remove(latest)
	err := os.Symlink(s.ID, latest)
	if err == nil {
		return
	}
	if werr := os.WriteFile(latest, []byte(s.ID+"\n"), 0o644); werr != nil {
		s.logger.Warn("diag: latest pointer update failed, continuing without it",
			"run_id", s.ID, "symlink_error", err, "file_error", werr)
	}
}

// Writer returns the writer for a channel, or nil for an unknown channel.
func (s *RunSession) Writer(channel model.Channel) *channelWriter {
	return s.writers[channel]
}

// DegradedChannels lists the channels disabled by I/O failures, in stable order.
func (s *RunSession) DegradedChannels() []string {
	var out []string
	for _, channel := range model.Channels {
		if w := s.writers[channel]; w != nil && w.Degraded() {
			out = append(out, string(channel))
		}
	}
	return out
}

// Close flushes and closes every channel writer. Idempotent: the second and
// later calls return the first call's result without touching the files.
func (s *RunSession) Close() error {
	s.closeOnce.Do(func() {
		for _, channel := range model.Channels {
			w := s.writers[channel]
			if w == nil {
				continue
			}
			if err := w.Close(); err != nil && s.closeErr == nil {
				s.closeErr = fmt.Errorf("diag: close %s writer: %w", channel, err)
			}
		}
	})
	return s.closeErr
}
