// Package common provides shared utilities for the guardian recovery
// backend, including structured logging setup and build version metadata.
package common

import (
	"log/slog"
	"os"
)

// LoggingOpts contains the options for setting up the logger.
type LoggingOpts struct {
	// Service name, added as a "service" attribute to all log entries.
	Service string

	// JSON enables JSON log output instead of text.
	JSON bool

	// Debug lowers the log level to include debug messages.
	Debug bool

	// Version, added as a "version" attribute to all log entries if set.
	Version string
}

// SetupLogger creates a structured logger with the given options.
func SetupLogger(opts *LoggingOpts) (log *slog.Logger) {
	logLevel := slog.LevelInfo
	if opts.Debug {
		logLevel = slog.LevelDebug
	}

	if opts.JSON {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	} else {
		log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	}

	if opts.Service != "" {
		log = log.With("service", opts.Service)
	}

	if opts.Version != "" {
		log = log.With("version", opts.Version)
	}

	return log
}
