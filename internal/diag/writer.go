// Package diag implements the run-scoped diagnostics subsystem: the bounded
// log queue and its draining worker, rotating per-channel file writers, the
// run directory manager, the freeze detector, the performance recorder, and
// the client liveness tracker. Everything is owned by a single Diagnostics
// context constructed at startup and injected into the reader loop and the
// HTTP layer.
package diag

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hotfire-labs/blastwatch/internal/model"
)

// ErrDegraded marks a channel that has stopped accepting writes after an
// unrecoverable I/O failure.
var ErrDegraded = fmt.Errorf("diag: channel degraded")

// channelWriter owns one rotating log file. It serializes one record at a
// time and rotates by size with a bounded backup count. A write or rotation
// failure degrades the channel: the failing write returns the underlying
// error once and all subsequent writes are skipped with ErrDegraded.
type channelWriter struct {
	channel    model.Channel
	path       string
	maxBytes   int64
	maxBackups int
	header     string // written at the top of each fresh file; empty for non-CSV channels

	mu       sync.Mutex
	f        *os.File
	size     int64
	degraded bool
}

func newChannelWriter(channel model.Channel, path string, maxBytes int64, maxBackups int, header string) (*channelWriter, error) {
	w := &channelWriter{
		channel:    channel,
		path:       path,
		maxBytes:   maxBytes,
		maxBackups: maxBackups,
		header:     header,
	}
	if err := w.openFresh(); err != nil {
		return nil, fmt.Errorf("diag: open %s writer: %w", channel, err)
	}
	return w, nil
}

func (w *channelWriter) openFresh() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.size = info.Size()
	if w.size == 0 && w.header != "" {
		n, err := f.WriteString(w.header + "\n")
		if err != nil {
			_ = f.Close()
			return err
		}
		w.size += int64(n)
	}
	return nil
}

// Write appends one serialized record. Returns the I/O error exactly once,
// on the write that degrades the channel; later writes do nothing and report
// ErrDegraded so the caller can account for the skipped record.
func (w *channelWriter) Write(rec model.LogRecord) error {
	line := formatRecord(rec)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.degraded || w.f == nil {
		return ErrDegraded
	}

	if w.size > 0 && w.size+int64(len(line))+1 > w.maxBytes {
		if err := w.rotate(); err != nil {
			w.degraded = true
			return fmt.Errorf("diag: rotate %s: %w", w.channel, err)
		}
	}

	n, err := w.f.WriteString(line + "\n")
	w.size += int64(n)
	if err != nil {
		w.degraded = true
		return fmt.Errorf("diag: write %s: %w", w.channel, err)
	}
	return nil
}

// rotate closes the active file, shifts existing backups up one generation
// (path.1 → path.2, ...), deletes the generation beyond maxBackups, and
// opens a fresh file. Caller holds w.mu.
func (w *channelWriter) rotate() error {
	if err := w.f.Close(); err != nil {
		return err
	}
	w.f = nil

	_ = os.Remove(fmt.Sprintf("%s.%d", w.path, w.maxBackups))
	for i := w.maxBackups - 1; i >= 1; i-- {
		src := fmt.Sprintf("%s.%d", w.path, i)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := os.Rename(src, fmt.Sprintf("%s.%d", w.path, i+1)); err != nil {
			return err
		}
	}
	if err := os.Rename(w.path, w.path+".1"); err != nil {
		return err
	}
	return w.openFresh()
}

// Close flushes and closes the active file. Safe to call more than once.
func (w *channelWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Sync()
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	w.f = nil
	return err
}

// Degraded reports whether this channel has been disabled by an I/O failure.
func (w *channelWriter) Degraded() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.degraded
}

// backups returns the existing backup generations, lowest first. Test hook.
func (w *channelWriter) backups() []string {
	var out []string
	for i := 1; i <= w.maxBackups; i++ {
		p := fmt.Sprintf("%s.%d", w.path, i)
		if _, err := os.Stat(p); err == nil {
			out = append(out, filepath.Base(p))
		}
	}
	return out
}

// formatRecord serializes one record for its channel. Raw records (event,
// performance, data) carry a pre-serialized line in Message; plain-text
// channels get "<ts> [LEVEL] message | payload".
func formatRecord(rec model.LogRecord) string {
	if rec.Raw {
		return rec.Message
	}
	line := rec.Time.UTC().Format("2006-01-02 15:04:05.000") + " [" + rec.Level.String() + "] " + rec.Message
	if len(rec.Payload) > 0 {
		line += " | " + marshalPayload(rec.Payload)
	}
	return line
}

func marshalPayload(payload map[string]any) string {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("%v", payload)
	}
	return string(raw)
}
