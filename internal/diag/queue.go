package diag

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/hotfire-labs/blastwatch/internal/model"
	"github.com/hotfire-labs/blastwatch/internal/telemetry"
)

// drainGrace bounds how long Drain waits for the worker to acknowledge the
// deadline once it has passed. Only a worker stuck inside a write outlives it.
const drainGrace = 250 * time.Millisecond

// Queue is the bounded record sink between the hot producers and the disk
// writers. Enqueue never blocks: when the queue is full the NEW record is
// dropped (reject-newest) and counted. A single draining goroutine preserves
// per-channel write order.
type Queue struct {
	logger  *slog.Logger
	session *RunSession

	ch      chan model.LogRecord
	dropped atomic.Int64
	written atomic.Int64

	done    chan struct{}
	drainCh chan context.Context // hands the shutdown deadline to the worker
}

// NewQueue creates a queue with the given capacity feeding the session's
// channel writers.
func NewQueue(session *RunSession, logger *slog.Logger, capacity int) *Queue {
	return &Queue{
		logger:  logger,
		session: session,
		ch:      make(chan model.LogRecord, capacity),
		done:    make(chan struct{}),
		drainCh: make(chan context.Context, 1),
	}
}

// Start begins the draining worker and registers OTEL gauges. The worker owns
// its own lifetime: it runs until Drain hands it a shutdown deadline, so a
// cancelled startup context can never trigger an unbounded sweep.
func (q *Queue) Start() {
	q.registerMetrics()
	go q.drainLoop()
}

// Enqueue hands a record to the draining worker. Returns false when the
// queue is at capacity and the record was dropped.
func (q *Queue) Enqueue(rec model.LogRecord) bool {
	select {
	case q.ch <- rec:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

func (q *Queue) drainLoop() {
	for {
		select {
		case ctx := <-q.drainCh:
			q.finalSweep(ctx)
			close(q.done)
			return
		case rec := <-q.ch:
			q.dispatch(rec)
		}
	}
}

// finalSweep writes the records still queued at shutdown, bounded by the
// drain context's deadline. Anything left past the deadline is dropped and
// counted.
func (q *Queue) finalSweep(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			remaining := int64(len(q.ch))
			if remaining > 0 {
				q.dropped.Add(remaining)
				q.logger.Warn("diag: drain deadline reached, discarding queued records", "discarded", remaining)
			}
			return
		}
		select {
		case rec := <-q.ch:
			q.dispatch(rec)
		default:
			return
		}
	}
}

// dispatch hands one record to its channel writer. The first failure on a
// channel is reported once to the app channel at WARNING and the channel is
// left degraded; nothing here ever reaches a producer. Records skipped by a
// degraded channel count as drops, never as writes.
func (q *Queue) dispatch(rec model.LogRecord) {
	w := q.session.Writer(rec.Channel)
	if w == nil {
		q.dropped.Add(1)
		return
	}
	err := w.Write(rec)
	if err == nil {
		q.written.Add(1)
		return
	}
	q.dropped.Add(1)
	if errors.Is(err, ErrDegraded) {
		return
	}
	q.logger.Warn("diag: channel degraded after write failure", "channel", rec.Channel, "error", err)
	if rec.Channel != model.ChannelApp {
		if appW := q.session.Writer(model.ChannelApp); appW != nil {
			_ = appW.Write(model.LogRecord{
				Channel: model.ChannelApp,
				Level:   model.LevelWarning,
				Time:    rec.Time,
				Message: "channel degraded, further writes skipped",
				Payload: map[string]any{"channel": string(rec.Channel), "error": err.Error()},
			})
		}
	}
}

// Drain hands the shutdown deadline to the worker, which stops pulling new
// records and sweeps the backlog until the deadline, then waits for it to
// finish. The written/dropped totals are final once Drain returns, except for
// a worker stuck inside a single write, which is abandoned after a short
// grace period past the deadline.
func (q *Queue) Drain(ctx context.Context) {
	select {
	case q.drainCh <- ctx:
	default: // an earlier Drain already handed over a deadline
	}
	select {
	case <-q.done:
		return
	case <-ctx.Done():
	}
	select {
	case <-q.done:
	case <-time.After(drainGrace):
		q.logger.Warn("diag: drain timed out waiting for worker")
	}
}

// Len returns the current queue depth.
func (q *Queue) Len() int { return len(q.ch) }

// Dropped returns the total records dropped, either by a full queue or by
// the shutdown deadline.
func (q *Queue) Dropped() int64 { return q.dropped.Load() }

// Written returns the total records successfully handed to a writer.
func (q *Queue) Written() int64 { return q.written.Load() }

// registerMetrics registers observable OTEL gauges for queue health.
func (q *Queue) registerMetrics() {
	meter := telemetry.Meter("blastwatch/diag")

	_, _ = meter.Int64ObservableGauge("blastwatch.queue.depth",
		metric.WithDescription("Current number of records waiting in the log queue"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(q.Len()))
			return nil
		}),
	)

	_, _ = meter.Int64ObservableGauge("blastwatch.queue.dropped_total",
		metric.WithDescription("Total records dropped due to queue capacity or drain deadline"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(q.Dropped())
			return nil
		}),
	)
}
