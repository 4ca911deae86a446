package diag

import (
	"encoding/json"
	"testing"

	"github.com/hotfire-labs/blastwatch/internal/model"
	"github.com/hotfire-labs/blastwatch/internal/testutil"
)

func newTestTracker(records *[]model.LogRecord) *ClientTracker {
	sink := func(rec model.LogRecord) bool {
		*records = append(*records, rec)
		return true
	}
	events := NewEventLogger(sink, testutil.TestLogger())
	return NewClientTracker(events, sink, testutil.TestLogger())
}

func TestClientEventLogged(t *testing.T) {
	var records []model.LogRecord
	tr := newTestTracker(&records)

	tr.RecordClientEvent(model.ClientStatusEvent{
		ClientID:        "tab-1",
		EventType:       model.ClientPageHidden,
		ClientTimestamp: 1700000000.5,
		Visible:         false,
	})

	if len(records) != 1 {
		t.Fatalf("expected one event record, got %d", len(records))
	}
	rec := records[0]
	if rec.Channel != model.ChannelEvent || !rec.Raw {
		t.Fatalf("event misrouted: %+v", rec)
	}
	var line map[string]any
	if err := json.Unmarshal([]byte(rec.Message), &line); err != nil {
		t.Fatalf("event line is not JSON: %v", err)
	}
	if line["event_type"] != "client_page_hidden" {
		t.Fatalf("unexpected event type: %v", line["event_type"])
	}
}

func TestClientDegradedEventWarnsAppChannel(t *testing.T) {
	var records []model.LogRecord
	tr := newTestTracker(&records)

	tr.RecordClientEvent(model.ClientStatusEvent{
		ClientID:  "tab-2",
		EventType: model.ClientThrottled,
		Throttled: true,
	})

	var appWarnings, eventRecords int
	for _, rec := range records {
		switch {
		case rec.Channel == model.ChannelApp && rec.Level == model.LevelWarning:
			appWarnings++
		case rec.Channel == model.ChannelEvent:
			eventRecords++
		}
	}
	if eventRecords != 1 {
		t.Fatalf("expected one event-channel record, got %d", eventRecords)
	}
	if appWarnings != 1 {
		t.Fatalf("throttled event must warn on the app channel, got %d warnings", appWarnings)
	}
}

func TestClientStateTracked(t *testing.T) {
	var records []model.LogRecord
	tr := newTestTracker(&records)

	tr.RecordClientEvent(model.ClientStatusEvent{ClientID: "tab-3", EventType: model.ClientInitialized, Visible: true})
	tr.RecordClientEvent(model.ClientStatusEvent{ClientID: "tab-3", EventType: model.ClientThrottled, Visible: false, Throttled: true})

	clients := tr.Clients()
	c, ok := clients["tab-3"]
	if !ok {
		t.Fatal("client missing from state map")
	}
	if c.Visible || !c.Throttled || c.LastEvent != model.ClientThrottled {
		t.Fatalf("unexpected client state: %+v", c)
	}

	// The returned map is a copy.
	c.Throttled = false
	if !tr.Clients()["tab-3"].Throttled {
		t.Fatal("mutating the snapshot leaked into the tracker")
	}
}
