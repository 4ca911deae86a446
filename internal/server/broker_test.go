package server

import (
	"strings"
	"testing"
	"time"

	"github.com/hotfire-labs/blastwatch/internal/model"
	"github.com/hotfire-labs/blastwatch/internal/reader"
	"github.com/hotfire-labs/blastwatch/internal/testutil"
)

func newTestBroker() (*Broker, *reader.Cache) {
	cache := reader.NewCache()
	return NewBroker(cache, time.Millisecond, testutil.TestLogger()), cache
}

func storeSnapshot(cache *reader.Cache, pt float64, at time.Time) {
	frame := model.SensorFrame{PT: []float64{pt}, ReceivedAt: at}
	cache.Store(model.Snapshot{Raw: frame, Adjusted: frame, UpdatedAt: at})
}

func TestBrokerBroadcastsNewSnapshots(t *testing.T) {
	b, cache := newTestBroker()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	storeSnapshot(cache, 42, time.Now())
	b.tick()

	select {
	case event := <-ch:
		s := string(event)
		if !strings.HasPrefix(s, "event: reading\n") || !strings.Contains(s, `"updated_at"`) {
			t.Fatalf("malformed event: %q", s)
		}
	default:
		t.Fatal("no event delivered")
	}
}

func TestBrokerSkipsStaleSnapshots(t *testing.T) {
	b, cache := newTestBroker()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	at := time.Now()
	storeSnapshot(cache, 42, at)
	b.tick()
	<-ch

	// Same timestamp: nothing new to send.
	b.tick()
	select {
	case event := <-ch:
		t.Fatalf("stale snapshot rebroadcast: %q", event)
	default:
	}

	storeSnapshot(cache, 43, at.Add(time.Millisecond))
	b.tick()
	select {
	case <-ch:
	default:
		t.Fatal("fresh snapshot not broadcast")
	}
}

func TestBrokerDropsForSlowSubscribers(t *testing.T) {
	b, cache := newTestBroker()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	at := time.Now()
	for i := 0; i < 200; i++ {
		at = at.Add(time.Millisecond)
		storeSnapshot(cache, float64(i), at)
		b.tick() // never blocks, even with a full subscriber buffer
	}
	if len(ch) != cap(ch) {
		t.Fatalf("expected a full buffer, got %d/%d", len(ch), cap(ch))
	}
}

func TestBrokerEmptyCache(t *testing.T) {
	b, _ := newTestBroker()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.tick()
	select {
	case event := <-ch:
		t.Fatalf("broadcast with no snapshot: %q", event)
	default:
	}
}
