package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hotfire-labs/blastwatch/internal/calibration"
	"github.com/hotfire-labs/blastwatch/internal/config"
	"github.com/hotfire-labs/blastwatch/internal/diag"
	"github.com/hotfire-labs/blastwatch/internal/reader"
	"github.com/hotfire-labs/blastwatch/internal/runledger"
)

// Server is the dashboard HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a
// Server. Optional fields (nil-safe): Ledger, Broker.
type ServerConfig struct {
	// Required dependencies.
	Diag    *diag.Diagnostics
	Cache   *reader.Cache
	Cal     *calibration.Service
	Sensors config.Sensors
	Logger  *slog.Logger

	// Optional dependencies (nil = disabled).
	Ledger *runledger.Ledger
	Broker *Broker

	// HTTP server settings. WriteTimeout defaults to zero because
	// /v1/subscribe holds its connection open indefinitely.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Diag:                cfg.Diag,
		Cache:               cfg.Cache,
		Cal:                 cfg.Cal,
		Ledger:              cfg.Ledger,
		Broker:              cfg.Broker,
		Sensors:             cfg.Sensors,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	mux := http.NewServeMux()

	// Latest readings.
	mux.HandleFunc("GET /data", h.HandleData)

	// Live stream (long-lived connection).
	mux.HandleFunc("GET /v1/subscribe", h.HandleSubscribe)

	// Run history.
	mux.HandleFunc("GET /v1/runs", h.HandleListRuns)

	// Calibration.
	mux.HandleFunc("GET /api/offsets", h.HandleGetOffsets)
	mux.HandleFunc("PUT /api/offsets", h.HandleUpdateOffsets)
	mux.HandleFunc("POST /api/zero/{sensor_id}", h.HandleZeroSensor)
	mux.HandleFunc("POST /api/zero_all", h.HandleZeroAll)
	mux.HandleFunc("POST /api/reset_offsets", h.HandleResetOffsets)

	// Browser liveness reports.
	mux.HandleFunc("POST /api/client-status", h.HandleClientStatus)

	// Health.
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, cfg.Diag, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
