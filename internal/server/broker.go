package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/hotfire-labs/blastwatch/internal/reader"
)

// Broker fans the latest calibrated snapshot out to SSE subscribers. It polls
// the reader cache on a fixed cadence and broadcasts a "reading" event
// whenever a newer snapshot is available.
type Broker struct {
	cache  *reader.Cache
	period time.Duration
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[chan []byte]struct{}
	lastSent    time.Time
}

// NewBroker creates an SSE broker. Call Start to begin broadcasting.
func NewBroker(cache *reader.Cache, period time.Duration, logger *slog.Logger) *Broker {
	return &Broker{
		cache:       cache,
		period:      period,
		logger:      logger,
		subscribers: make(map[chan []byte]struct{}),
	}
}

// Start broadcasts until ctx is cancelled. It blocks, so call it in a
// goroutine.
func (b *Broker) Start(ctx context.Context) {
	ticker := time.NewTicker(b.period)
	defer ticker.Stop()

	b.logger.Info("broker: broadcasting readings", "period", b.period)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.tick()
		}
	}
}

func (b *Broker) tick() {
	snap, ok := b.cache.Load()
	if !ok || !snap.UpdatedAt.After(b.lastSent) {
		return
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		b.logger.Warn("broker: marshal snapshot", "error", err)
		return
	}
	b.lastSent = snap.UpdatedAt
	b.broadcast(formatSSE("reading", string(payload)))
}

// Subscribe returns a channel that receives SSE-formatted events.
// The caller must call Unsubscribe when done.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64) // Buffer to avoid blocking the broadcast loop.
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	b.mu.Unlock()
	close(ch)
}

// broadcast sends an event to all subscribers. Slow subscribers that have
// a full buffer are skipped (their event is dropped) to prevent one slow
// client from blocking all others.
func (b *Broker) broadcast(event []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// formatSSE formats a payload as a Server-Sent Events message.
func formatSSE(eventType, data string) []byte {
	return []byte("event: " + eventType + "\ndata: " + data + "\n\n")
}
