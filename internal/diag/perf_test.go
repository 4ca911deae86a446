package diag

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/hotfire-labs/blastwatch/internal/model"
	"github.com/hotfire-labs/blastwatch/internal/testutil"
)

func newTestRecorder(records *[]model.LogRecord) *PerfRecorder {
	sink := func(rec model.LogRecord) bool {
		*records = append(*records, rec)
		return true
	}
	return NewPerfRecorder(sink, testutil.TestLogger(), PerfConfig{
		FlushInterval:    time.Minute,
		SystemSampleRate: time.Minute,
	})
}

func TestRecordAggregates(t *testing.T) {
	var records []model.LogRecord
	r := newTestRecorder(&records)

	r.Record("x", 1.0)
	r.Record("x", 3.0)

	snap := r.Snapshot()
	m, ok := snap["x"]
	if !ok {
		t.Fatal("metric x missing from snapshot")
	}
	if m.Count != 2 || m.Min != 1.0 || m.Max != 3.0 || m.Average() != 2.0 || m.Last != 3.0 {
		t.Fatalf("unexpected aggregate: %+v (average %f)", m, m.Average())
	}
}

func TestRecordMinMaxBoundAllSamples(t *testing.T) {
	var records []model.LogRecord
	r := newTestRecorder(&records)

	for _, v := range []float64{5, -2, 10, 3, 3} {
		r.Record("y", v)
	}
	m := r.Snapshot()["y"]
	if m.Min != -2 || m.Max != 10 || m.Count != 5 || m.Last != 3 {
		t.Fatalf("unexpected aggregate: %+v", m)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	var records []model.LogRecord
	r := newTestRecorder(&records)

	r.Record("z", 1)
	snap := r.Snapshot()
	entry := snap["z"]
	entry.Count = 999
	snap["z"] = entry

	if r.Snapshot()["z"].Count != 1 {
		t.Fatal("mutating the snapshot leaked into the recorder")
	}
}

func TestFlushShape(t *testing.T) {
	var records []model.LogRecord
	r := newTestRecorder(&records)

	r.Record("sensor_read_ms", 1.0)
	r.Record("sensor_read_ms", 3.0)
	r.flush(time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC))

	if len(records) != 1 {
		t.Fatalf("expected one flush record, got %d", len(records))
	}
	rec := records[0]
	if rec.Channel != model.ChannelPerformance || !rec.Raw {
		t.Fatalf("flush record misrouted: %+v", rec)
	}

	var out struct {
		Timestamp time.Time                    `json:"timestamp"`
		Metrics   map[string]model.MetricStats `json:"metrics"`
	}
	if err := json.Unmarshal([]byte(rec.Message), &out); err != nil {
		t.Fatalf("flush line is not valid JSON: %v", err)
	}
	stats, ok := out.Metrics["sensor_read_ms"]
	if !ok {
		t.Fatal("flush missing metric")
	}
	if stats.Count != 2 || stats.Average != 2.0 || stats.Min != 1.0 || stats.Max != 3.0 || stats.Last != 3.0 {
		t.Fatalf("unexpected flush stats: %+v", stats)
	}
}

func TestFlushSkipsWhenEmpty(t *testing.T) {
	var records []model.LogRecord
	r := newTestRecorder(&records)

	r.flush(time.Now())
	if len(records) != 0 {
		t.Fatalf("empty recorder should not flush, got %d records", len(records))
	}
}

func TestRecordConcurrent(t *testing.T) {
	var records []model.LogRecord
	r := newTestRecorder(&records)

	var wg sync.WaitGroup
	for p := 0; p < 10; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				r.Record("hot", float64(i))
			}
		}()
	}
	wg.Wait()

	m := r.Snapshot()["hot"]
	if m.Count != 10000 {
		t.Fatalf("expected 10000 samples, got %d", m.Count)
	}
	if m.Min != 0 || m.Max != 999 {
		t.Fatalf("min/max must bound all samples: %+v", m)
	}
}
