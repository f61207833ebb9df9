// Package logging provides structured logging configuration using zerolog.
//
// Logs go to stderr as JSON unless pretty output is requested; stdout is left
// to the run summary.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ServiceName is attached to every log event.
const ServiceName = "snow-extractor"

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	// Set global log level
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	// Configure output
	var output io.Writer = cfg.Output
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: cfg.Output}
	}

	// Create logger with timestamp; debug runs also record the caller
	ctx := zerolog.New(output).With().Timestamp().Str("service", ServiceName)
	if level == zerolog.DebugLevel {
		ctx = ctx.Caller()
	}
	logger := ctx.Logger()

	// Set as global logger
	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// ConfigFromEnv builds a Config from LOG_LEVEL and LOG_PRETTY.
// debug forces LevelDebug regardless of LOG_LEVEL.
func ConfigFromEnv(debug bool) Config {
	cfg := DefaultConfig()

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Level = LogLevel(level)
	}
	if debug {
		cfg.Level = LevelDebug
	}

	switch strings.ToLower(os.Getenv("LOG_PRETTY")) {
	case "1", "true", "yes":
		cfg.Pretty = true
	}

	return cfg
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Every stored page (offset, records)
//   - Reconciled column sets (pruned, retained)
//   - Request parameters
//
// Info: Normal operation events
//   - Row count and page plan of a run
//   - Fetch progress every N pages
//   - Total count echoed by the first page
//   - Run summary
//
// Warn: Warning conditions that don't prevent a run
//   - Retry attempts
//   - Pages whose field set differs from other pages
//   - Stored row count differing from the remote count
//   - Scratch cleanup failures
//
// Error: Error conditions requiring attention
//   - Failed runs (after retries)
//   - Access denied to a table
//   - Configuration errors
//
// Context Fields:
//   - component: package emitting the event
//   - table: ServiceNow table name
//   - op: logical endpoint (stats, table)
//   - offset: page offset
//   - attempt: retry attempt number
//   - status_code: HTTP status code
//   - error_class: error classification (client, auth, server, network, parse, shape, storage)
//   - rows, pages, columns: run sizes
//   - duration: request or run duration
