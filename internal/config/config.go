// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Data source settings.
	DataSource   string // "simulator" or "serial"
	SerialDevice string // device path or host:port for the serial bridge
	ReadInterval time.Duration

	// Diagnostics settings.
	LogRoot            string
	QueueCapacity      int
	WriterMaxBytes     int64
	WriterMaxBackups   int
	FreezeThreshold    time.Duration
	FreezeCheckPeriod  time.Duration
	RecentOpsSize      int
	FreezeDumpOps      int // most recent operations included in a freeze dump
	PerfFlushInterval  time.Duration
	SystemSampleRate   time.Duration
	HighMemoryWarnMB   float64
	PublishInterval    time.Duration // SSE republish cadence
	LedgerPath         string
	SensorConfigPath   string
	CalibrationPath    string
	MaxRequestBodyBytes int64

	// Shutdown settings.
	ShutdownHTTPTimeout  time.Duration
	ShutdownDrainTimeout time.Duration

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                 envInt("BLASTWATCH_PORT", 8080),
		ReadTimeout:          envDuration("BLASTWATCH_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:         envDuration("BLASTWATCH_WRITE_TIMEOUT", 0), // 0: SSE connections stay open
		DataSource:           envStr("BLASTWATCH_DATA_SOURCE", "simulator"),
		SerialDevice:         envStr("BLASTWATCH_SERIAL_DEVICE", "/dev/ttyUSB0"),
		ReadInterval:         envDuration("BLASTWATCH_READ_INTERVAL", 100*time.Millisecond),
		LogRoot:              envStr("BLASTWATCH_LOG_ROOT", "logs"),
		QueueCapacity:        envInt("BLASTWATCH_QUEUE_CAPACITY", 10000),
		WriterMaxBytes:       int64(envInt("BLASTWATCH_WRITER_MAX_BYTES", 100*1024*1024)),
		WriterMaxBackups:     envInt("BLASTWATCH_WRITER_MAX_BACKUPS", 7),
		FreezeThreshold:      envDuration("BLASTWATCH_FREEZE_THRESHOLD", 5*time.Second),
		FreezeCheckPeriod:    envDuration("BLASTWATCH_FREEZE_CHECK_PERIOD", 500*time.Millisecond),
		RecentOpsSize:        envInt("BLASTWATCH_RECENT_OPS_SIZE", 100),
		FreezeDumpOps:        envInt("BLASTWATCH_FREEZE_DUMP_OPS", 50),
		PerfFlushInterval:    envDuration("BLASTWATCH_PERF_FLUSH_INTERVAL", 60*time.Second),
		SystemSampleRate:     envDuration("BLASTWATCH_SYSTEM_SAMPLE_RATE", time.Second),
		HighMemoryWarnMB:     envFloat("BLASTWATCH_HIGH_MEMORY_WARN_MB", 1024),
		PublishInterval:      envDuration("BLASTWATCH_PUBLISH_INTERVAL", 100*time.Millisecond),
		LedgerPath:           envStr("BLASTWATCH_LEDGER_PATH", "logs/runs.db"),
		SensorConfigPath:     envStr("BLASTWATCH_SENSOR_CONFIG", "sensors.yaml"),
		CalibrationPath:      envStr("BLASTWATCH_CALIBRATION_PATH", "logs/calibration.yaml"),
		MaxRequestBodyBytes:  int64(envInt("BLASTWATCH_MAX_REQUEST_BODY_BYTES", 256*1024)),
		ShutdownHTTPTimeout:  envDuration("BLASTWATCH_SHUTDOWN_HTTP_TIMEOUT", 10*time.Second),
		ShutdownDrainTimeout: envDuration("BLASTWATCH_SHUTDOWN_DRAIN_TIMEOUT", 10*time.Second),
		OTELEndpoint:         envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:         envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:          envStr("OTEL_SERVICE_NAME", "blastwatch"),
		LogLevel:             envStr("BLASTWATCH_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and coherent.
func (c Config) Validate() error {
	if c.LogRoot == "" {
		return fmt.Errorf("config: BLASTWATCH_LOG_ROOT is required")
	}
	switch c.DataSource {
	case "simulator", "serial":
	default:
		return fmt.Errorf("config: BLASTWATCH_DATA_SOURCE must be \"simulator\" or \"serial\" (got %q)", c.DataSource)
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("config: BLASTWATCH_QUEUE_CAPACITY must be positive")
	}
	if c.WriterMaxBytes <= 0 {
		return fmt.Errorf("config: BLASTWATCH_WRITER_MAX_BYTES must be positive")
	}
	if c.WriterMaxBackups < 1 {
		return fmt.Errorf("config: BLASTWATCH_WRITER_MAX_BACKUPS must be at least 1")
	}
	if c.FreezeThreshold <= 0 {
		return fmt.Errorf("config: BLASTWATCH_FREEZE_THRESHOLD must be positive")
	}
	if c.FreezeCheckPeriod <= 0 || c.FreezeCheckPeriod > c.FreezeThreshold {
		return fmt.Errorf("config: BLASTWATCH_FREEZE_CHECK_PERIOD must be positive and no longer than the freeze threshold")
	}
	if c.ReadInterval <= 0 {
		return fmt.Errorf("config: BLASTWATCH_READ_INTERVAL must be positive")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: BLASTWATCH_MAX_REQUEST_BODY_BYTES must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
