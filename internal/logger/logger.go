// Package logger provides the process-wide structured logger.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the global logger instance, configured once at startup.
var Log zerolog.Logger

// Initialize sets up the global logger with the given level and format.
func Initialize(level string, pretty bool) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	Log = log.With().
		Str("service", "task-controller").
		Logger()

	Log.Info().
		Str("level", logLevel.String()).
		Bool("pretty", pretty).
		Msg("logger initialized")
}

// GetLogger returns the global logger instance.
func GetLogger() *zerolog.Logger {
	return &Log
}

// Pool creates a logger for the Pool Reconciler.
func Pool() *zerolog.Logger {
	l := Log.With().Str("component", "pool_reconciler").Logger()
	return &l
}

// Lease creates a logger for the Lease Manager.
func Lease() *zerolog.Logger {
	l := Log.With().Str("component", "lease_manager").Logger()
	return &l
}

// Reaper creates a logger for the Reaper.
func Reaper() *zerolog.Logger {
	l := Log.With().Str("component", "reaper").Logger()
	return &l
}

// Dispatch creates a logger for the Job Dispatcher.
func Dispatch() *zerolog.Logger {
	l := Log.With().Str("component", "job_dispatcher").Logger()
	return &l
}

// Watch creates a logger for the Job Watcher.
func Watch() *zerolog.Logger {
	l := Log.With().Str("component", "job_watcher").Logger()
	return &l
}

// IPC creates a logger for the IPC service.
func IPC() *zerolog.Logger {
	l := Log.With().Str("component", "ipc").Logger()
	return &l
}

// DB creates a logger for database events.
func DB() *zerolog.Logger {
	l := Log.With().Str("component", "database").Logger()
	return &l
}

// VNC creates a logger for the VNC workspace manager.
func VNC() *zerolog.Logger {
	l := Log.With().Str("component", "vnc_workspace").Logger()
	return &l
}

// Scheduler creates a logger for the periodic schedule driver.
func Scheduler() *zerolog.Logger {
	l := Log.With().Str("component", "scheduler").Logger()
	return &l
}
