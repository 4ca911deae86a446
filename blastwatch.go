// Package blastwatch is the public API for embedding the blastwatch sensor
// dashboard server.
//
// Consumers import this package to construct and run the server without
// forking it:
//
//	app, err := blastwatch.New(
//	    blastwatch.WithVersion(version),
//	    blastwatch.WithLogger(logger),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: blastwatch (root) imports
// internal/*, but internal/* never imports blastwatch (root). Public types
// (Frame, DataSource) are standalone with no internal imports; the conversion
// adapter lives here because this is the only file that sees both sides of
// the boundary.
package blastwatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/hotfire-labs/blastwatch/internal/calibration"
	"github.com/hotfire-labs/blastwatch/internal/config"
	"github.com/hotfire-labs/blastwatch/internal/diag"
	"github.com/hotfire-labs/blastwatch/internal/model"
	"github.com/hotfire-labs/blastwatch/internal/reader"
	"github.com/hotfire-labs/blastwatch/internal/runledger"
	"github.com/hotfire-labs/blastwatch/internal/server"
	"github.com/hotfire-labs/blastwatch/internal/source"
	"github.com/hotfire-labs/blastwatch/internal/telemetry"
)

// App is the blastwatch server lifecycle. Construct with New(), run with
// Run(). App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	sensors      config.Sensors
	diag         *diag.Diagnostics
	ledger       *runledger.Ledger
	cal          *calibration.Service
	src          source.DataSource
	reader       *reader.Reader
	cache        *reader.Cache
	broker       *server.Broker
	srv          *server.Server
	otelShutdown func(context.Context) error
	logger       *slog.Logger
	version      string
}

// New initialises the blastwatch server. It starts the run directory, opens
// the run ledger and the calibration store, and wires all subsystems. It
// does NOT start any goroutines or accept HTTP connections — call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.logRoot != "" {
		cfg.LogRoot = o.logRoot
	}
	if o.dataSource != "" {
		cfg.DataSource = o.dataSource
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	if o.sensorConfigPath != "" {
		cfg.SensorConfigPath = o.sensorConfigPath
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("blastwatch starting", "version", version, "port", cfg.Port)

	sensors, err := config.LoadSensors(cfg.SensorConfigPath)
	if err != nil {
		return nil, fmt.Errorf("sensors: %w", err)
	}

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Run directory, channel writers, and background monitors.
	d, err := diag.New(cfg, sensors.Counts(), logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("diagnostics: %w", err)
	}
	session := d.Session()

	// Run ledger.
	ledger, err := runledger.Open(cfg.LedgerPath)
	if err != nil {
		_ = d.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("runledger: %w", err)
	}
	if err := ledger.RecordStart(context.Background(), session.ID, session.Dir, session.StartedAt); err != nil {
		_ = ledger.Close()
		_ = d.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("runledger: %w", err)
	}

	// Calibration store.
	cal, err := calibration.Open(cfg.CalibrationPath)
	if err != nil {
		_ = ledger.Close()
		_ = d.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("calibration: %w", err)
	}

	// Data source — external override takes priority over config selection.
	var src source.DataSource
	switch {
	case o.source != nil:
		src = &sourceAdapter{s: o.source}
		logger.Info("data source: external")
	case cfg.DataSource == "serial":
		src = source.NewSerialSource(serialOpener(cfg.SerialDevice), d.Serial, logger)
		logger.Info("data source: serial", "device", cfg.SerialDevice)
	default:
		src = source.NewSimulator(sensors, 0)
		logger.Info("data source: simulator")
	}

	cache := reader.NewCache()
	rdr := reader.New(src, cal, d, cache, sensors, cfg.ReadInterval, logger)

	broker := server.NewBroker(cache, cfg.PublishInterval, logger)

	srv := server.New(server.ServerConfig{
		Diag:                d,
		Cache:               cache,
		Cal:                 cal,
		Sensors:             sensors,
		Logger:              logger,
		Ledger:              ledger,
		Broker:              broker,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	return &App{
		cfg:          cfg,
		sensors:      sensors,
		diag:         d,
		ledger:       ledger,
		cal:          cal,
		src:          src,
		reader:       rdr,
		cache:        cache,
		broker:       broker,
		srv:          srv,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts the acquisition loop, the diagnostics workers, the SSE broker,
// and the HTTP server, then blocks until ctx is cancelled or a fatal error
// occurs. On return, Shutdown has been called — callers should not call
// Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	if err := a.src.Initialize(ctx); err != nil {
		return fmt.Errorf("source: %w", err)
	}

	a.diag.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.reader.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		a.broker.Start(gctx)
		return nil
	})
	g.Go(func() error {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.Shutdown(context.Background())
	})

	return g.Wait()
}

// Shutdown performs a multi-phase graceful shutdown:
// (1) stop accepting HTTP requests and drain in-flight,
// (2) close the data source,
// (3) drain the diagnostic queue and close the channel writers,
// (4) stamp the run ledger with the final totals.
// It then shuts down the OTEL providers.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("blastwatch shutting down")

	// Phase 1: HTTP drain. Unblocks srv.Start with ErrServerClosed.
	httpCtx, httpCancel := contextWithOptionalTimeout(ctx, a.cfg.ShutdownHTTPTimeout)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	// Phase 2: stop the data source so no new frames arrive during the drain.
	if err := a.src.Close(); err != nil {
		a.logger.Warn("source close error", "error", err)
	}

	// Phase 3: drain the queue and close the run's channel writers.
	health := a.diag.Health()
	if err := a.diag.Close(ctx); err != nil {
		a.logger.Error("diagnostics close error", "error", err)
	}
	// Records discarded at the drain deadline land in the dropped total, so
	// the totals are final only after Close.
	_, dropped := a.diag.Stats()

	// Phase 4: run ledger.
	if err := a.ledger.RecordEnd(ctx, health.RunID, a.reader.Frames(), dropped, int64(health.FreezeCount)); err != nil {
		a.logger.Warn("run ledger update failed", "error", err)
	}
	if err := a.ledger.Close(); err != nil {
		a.logger.Warn("run ledger close failed", "error", err)
	}

	_ = a.otelShutdown(context.Background())

	a.logger.Info("blastwatch stopped", "run_id", health.RunID, "frames", a.reader.Frames())
	return nil
}

// serialOpener dials the configured serial endpoint: host:port connects over
// TCP (serial bridge), anything else opens a device file.
func serialOpener(device string) source.Opener {
	return func(ctx context.Context) (io.ReadCloser, error) {
		if strings.Contains(device, ":") {
			var dialer net.Dialer
			return dialer.DialContext(ctx, "tcp", device)
		}
		return os.OpenFile(device, os.O_RDWR, 0)
	}
}

// sourceAdapter wraps a public DataSource to satisfy the internal interface.
type sourceAdapter struct {
	s DataSource
}

func (a *sourceAdapter) Initialize(ctx context.Context) error { return a.s.Initialize(ctx) }
func (a *sourceAdapter) Close() error                         { return a.s.Close() }

func (a *sourceAdapter) ReadFrame(ctx context.Context) (model.SensorFrame, error) {
	f, err := a.s.ReadFrame(ctx)
	if err != nil {
		if errors.Is(err, ErrNoData) {
			return model.SensorFrame{}, source.ErrNoData
		}
		return model.SensorFrame{}, err
	}
	return model.SensorFrame{
		PT:              f.PT,
		TC:              f.TC,
		LC:              f.LC,
		FCV:             f.FCV,
		SerialTimestamp: f.SerialTimestamp,
		ReceivedAt:      f.ReceivedAt,
	}, nil
}

func contextWithOptionalTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}
