package blastwatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hotfire-labs/blastwatch/internal/source"
)

type stubSource struct {
	frames []Frame
	i      int
}

func (s *stubSource) Initialize(context.Context) error { return nil }
func (s *stubSource) Close() error                     { return nil }

func (s *stubSource) ReadFrame(context.Context) (Frame, error) {
	if s.i >= len(s.frames) {
		return Frame{}, ErrNoData
	}
	f := s.frames[s.i]
	s.i++
	return f, nil
}

func TestSourceAdapterConvertsFrames(t *testing.T) {
	at := time.Now()
	adapter := &sourceAdapter{s: &stubSource{frames: []Frame{{
		PT:              []float64{1.5},
		TC:              []float64{2},
		FCV:             []bool{true},
		SerialTimestamp: 3.25,
		ReceivedAt:      at,
	}}}}

	frame, err := adapter.ReadFrame(context.Background())
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if frame.PT[0] != 1.5 || frame.SerialTimestamp != 3.25 || !frame.FCV[0] || !frame.ReceivedAt.Equal(at) {
		t.Fatalf("frame not converted: %+v", frame)
	}

	// Public ErrNoData maps to the internal sentinel the reader loop checks.
	_, err = adapter.ReadFrame(context.Background())
	if !errors.Is(err, source.ErrNoData) {
		t.Fatalf("expected internal ErrNoData, got %v", err)
	}
}

func TestOptionsApply(t *testing.T) {
	o := resolvedOptions{}
	for _, opt := range []Option{
		WithPort(9999),
		WithLogRoot("/tmp/runs"),
		WithDataSource("serial"),
		WithSensorConfigPath("alt.yaml"),
		WithVersion("v1.2.3"),
	} {
		opt(&o)
	}
	if o.port != 9999 || o.logRoot != "/tmp/runs" || o.dataSource != "serial" ||
		o.sensorConfigPath != "alt.yaml" || o.version != "v1.2.3" {
		t.Fatalf("options not applied: %+v", o)
	}
}

func TestSerialOpenerDeviceFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ttyFAKE")
	if err := os.WriteFile(path, []byte("{}\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	open := serialOpener(path)
	conn, err := open(context.Background())
	if err != nil {
		t.Fatalf("open device file: %v", err)
	}
	defer conn.Close()

	buf := make([]byte, 3)
	if n, _ := conn.Read(buf); n == 0 {
		t.Fatal("device file not readable")
	}
}
