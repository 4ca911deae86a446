package blastwatch

import "log/slog"

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	port             int
	logRoot          string
	dataSource       string
	sensorConfigPath string
	logger           *slog.Logger
	version          string
	source           DataSource
}

// WithPort overrides the TCP port from config (BLASTWATCH_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithLogRoot overrides the directory run directories are created under
// (BLASTWATCH_LOG_ROOT env var).
func WithLogRoot(dir string) Option {
	return func(o *resolvedOptions) { o.logRoot = dir }
}

// WithDataSource overrides the configured data source name, "simulator" or
// "serial" (BLASTWATCH_DATA_SOURCE env var). Ignored when WithSource is used.
func WithDataSource(name string) Option {
	return func(o *resolvedOptions) { o.dataSource = name }
}

// WithSensorConfigPath overrides the sensor configuration file path
// (BLASTWATCH_SENSOR_CONFIG env var).
func WithSensorConfigPath(path string) Option {
	return func(o *resolvedOptions) { o.sensorConfigPath = path }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithSource replaces the built-in simulator and serial reader with an
// external frame producer. Only the last call wins.
func WithSource(s DataSource) Option {
	return func(o *resolvedOptions) { o.source = s }
}
