package source

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/hotfire-labs/blastwatch/internal/model"
)

// Opener dials the serial device (or its network bridge) and returns the
// byte stream. Injected so tests and deployments choose the transport.
type Opener func(ctx context.Context) (io.ReadCloser, error)

const (
	reconnectInitial = 250 * time.Millisecond
	reconnectMax     = 5 * time.Second
	maxLineBytes     = 64 * 1024
)

// SerialSource reads line-delimited JSON frames from a serial device. A lost
// connection is re-dialed with capped exponential backoff; a malformed line
// is surfaced as a parse error the caller logs and survives.
type SerialSource struct {
	open    Opener
	logger  *slog.Logger
	rawSink func(direction, line string) // echoes wire traffic to the serial channel; may be nil

	conn    io.ReadCloser
	scanner *bufio.Scanner
	backoff time.Duration
}

// NewSerialSource creates a serial source. rawSink may be nil.
func NewSerialSource(open Opener, rawSink func(direction, line string), logger *slog.Logger) *SerialSource {
	return &SerialSource{
		open:    open,
		logger:  logger,
		rawSink: rawSink,
		backoff: reconnectInitial,
	}
}

// Initialize dials the device once so startup fails fast on a bad endpoint.
func (s *SerialSource) Initialize(ctx context.Context) error {
	return s.connect(ctx)
}

func (s *SerialSource) connect(ctx context.Context) error {
	conn, err := s.open(ctx)
	if err != nil {
		return fmt.Errorf("source: open serial: %w", err)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), maxLineBytes)
	s.conn = conn
	s.scanner = scanner
	s.backoff = reconnectInitial
	s.logger.Info("source: serial connected")
	return nil
}

// ReadFrame reads and parses the next line. On a connection failure it
// closes the link, sleeps one backoff step, and reports the error; the next
// call re-dials.
func (s *SerialSource) ReadFrame(ctx context.Context) (model.SensorFrame, error) {
	if s.conn == nil {
		if err := s.connect(ctx); err != nil {
			s.sleepBackoff(ctx)
			return model.SensorFrame{}, err
		}
	}

	if !s.scanner.Scan() {
		err := s.scanner.Err()
		if err == nil {
			err = io.EOF
		}
		s.dropConnection()
		s.sleepBackoff(ctx)
		return model.SensorFrame{}, fmt.Errorf("source: serial read: %w", err)
	}

	line := s.scanner.Text()
	if s.rawSink != nil {
		s.rawSink("RX", line)
	}

	var frame model.SensorFrame
	if err := json.Unmarshal([]byte(line), &frame); err != nil {
		return model.SensorFrame{}, fmt.Errorf("source: parse frame: %w", err)
	}
	frame.ReceivedAt = time.Now()
	return frame, nil
}

func (s *SerialSource) dropConnection() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
		s.scanner = nil
	}
}

func (s *SerialSource) sleepBackoff(ctx context.Context) {
	t := time.NewTimer(s.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
	s.backoff *= 2
	if s.backoff > reconnectMax {
		s.backoff = reconnectMax
	}
}

// Close drops the connection.
func (s *SerialSource) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	s.scanner = nil
	return err
}
