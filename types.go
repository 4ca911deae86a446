package blastwatch

import (
	"context"
	"errors"
	"time"
)

// ErrNoData is returned by a DataSource when no frame is available this
// poll. The server keeps serving the last known reading.
var ErrNoData = errors.New("blastwatch: no data")

// Frame is one telemetry sample: pressure transducers, thermocouples, load
// cells, and valve states, in sensor-configuration order.
type Frame struct {
	PT              []float64
	TC              []float64
	LC              []float64
	FCV             []bool
	SerialTimestamp float64
	ReceivedAt      time.Time
}

// DataSource produces frames for the acquisition loop. Implementations are
// polled from a single goroutine.
type DataSource interface {
	// Initialize prepares the source. Called once before the first ReadFrame.
	Initialize(ctx context.Context) error
	// ReadFrame returns the next frame, or ErrNoData when nothing new is
	// available. Any other error is logged and survived.
	ReadFrame(ctx context.Context) (Frame, error)
	// Close releases the source during shutdown.
	Close() error
}
