// Package source provides the telemetry data sources: a hardware serial
// reader (one JSON object per line) and a software simulator. Both satisfy
// DataSource; the reader loop does not care which is behind it.
package source

import (
	"context"
	"errors"

	"github.com/hotfire-labs/blastwatch/internal/model"
)

// ErrNoData indicates the source had nothing new this tick; the caller keeps
// serving the last-known-good snapshot.
var ErrNoData = errors.New("source: no data")

// DataSource produces sensor frames.
type DataSource interface {
	// Initialize prepares the source (opens the device, seeds the simulator).
	Initialize(ctx context.Context) error
	// ReadFrame returns the next frame. Returns ErrNoData when nothing new
	// is available; any other error is a read failure the caller logs and
	// survives.
	ReadFrame(ctx context.Context) (model.SensorFrame, error)
	// Close releases the source.
	Close() error
}
