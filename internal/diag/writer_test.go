package diag

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hotfire-labs/blastwatch/internal/model"
)

func textRecord(msg string) model.LogRecord {
	return model.LogRecord{
		Channel: model.ChannelApp,
		Level:   model.LevelInfo,
		Time:    time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
		Message: msg,
	}
}

func TestWriterFormatsPlainText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	w, err := newChannelWriter(model.ChannelApp, path, 1<<20, 3, "")
	if err != nil {
		t.Fatalf("newChannelWriter: %v", err)
	}
	rec := textRecord("hello")
	rec.Payload = map[string]any{"k": "v"}
	if err := w.Write(rec); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	got := strings.TrimSpace(string(raw))
	want := `2026-03-14 09:26:53.000 [INFO] hello | {"k":"v"}`
	if got != want {
		t.Fatalf("unexpected line:\n got %q\nwant %q", got, want)
	}
}

func TestWriterRawPassthrough(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	w, err := newChannelWriter(model.ChannelEvent, path, 1<<20, 3, "")
	if err != nil {
		t.Fatalf("newChannelWriter: %v", err)
	}
	if err := w.Write(model.LogRecord{Channel: model.ChannelEvent, Message: `{"event_type":"x"}`, Raw: true}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = w.Close()

	raw, _ := os.ReadFile(path)
	if strings.TrimSpace(string(raw)) != `{"event_type":"x"}` {
		t.Fatalf("raw record was reformatted: %q", raw)
	}
}

func TestWriterRotationBoundary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	// Each formatted line is ~60 bytes; cap at 150 so the third write rotates.
	w, err := newChannelWriter(model.ChannelApp, path, 150, 3, "")
	if err != nil {
		t.Fatalf("newChannelWriter: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := w.Write(textRecord("0123456789012345678901234567890123456789")); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	_ = w.Close()

	if got := w.backups(); len(got) != 1 {
		t.Fatalf("expected exactly one backup generation, got %v", got)
	}
	if _, err := os.Stat(path + ".1"); err != nil {
		t.Fatalf("expected %s.1 to exist: %v", path, err)
	}
}

func TestWriterRotationNeverExceedsBackupCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	w, err := newChannelWriter(model.ChannelApp, path, 80, 2, "")
	if err != nil {
		t.Fatalf("newChannelWriter: %v", err)
	}
	for i := 0; i < 20; i++ {
		if err := w.Write(textRecord("0123456789012345678901234567890123456789")); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	_ = w.Close()

	if got := w.backups(); len(got) > 2 {
		t.Fatalf("backup count exceeded: %v", got)
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Fatalf("generation beyond max backups should not exist")
	}
}

func TestWriterCSVHeaderOnEachGeneration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	header := "serial_timestamp,system_timestamp,pt_1"
	w, err := newChannelWriter(model.ChannelData, path, 100, 3, header)
	if err != nil {
		t.Fatalf("newChannelWriter: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := w.Write(model.LogRecord{Channel: model.ChannelData, Message: "1.000,2.000,100.5", Raw: true}); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	_ = w.Close()

	for _, p := range []string{path, path + ".1"} {
		raw, err := os.ReadFile(p)
		if err != nil {
			t.Fatalf("read %s: %v", p, err)
		}
		if !strings.HasPrefix(string(raw), header+"\n") {
			t.Fatalf("%s missing CSV header, starts with %q", p, string(raw)[:20])
		}
	}
}

func TestWriterDegradesOnFailure(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks are bypassed when running as root")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	w, err := newChannelWriter(model.ChannelApp, path, 60, 3, "")
	if err != nil {
		t.Fatalf("newChannelWriter: %v", err)
	}
	// Force the next rotation to fail by making the directory read-only.
	if err := w.Write(textRecord("0123456789012345678901234567890123456789")); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := os.Chmod(dir, 0o555); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	defer func() { _ = os.Chmod(dir, 0o755) }()

	err = w.Write(textRecord("0123456789012345678901234567890123456789"))
	if err == nil {
		t.Fatal("expected rotation failure")
	}
	if !w.Degraded() {
		t.Fatal("writer should be degraded after failure")
	}
	// Subsequent writes are skipped, not retried, and report the skip.
	if err := w.Write(textRecord("more")); !errors.Is(err, ErrDegraded) {
		t.Fatalf("skipped write should report ErrDegraded, got %v", err)
	}
}
