// Package common provides ambient logging utilities shared by every
// component of the function-routing platform: level/format setup, the
// process-wide Logger instance, and the live level-refresh loop driven by
// the log-level setting (C4).
package common

import (
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// LogLevel represents standard logging levels.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
	LogLevelFatal LogLevel = "fatal"
)

// LoggerConfig contains configuration for creating a logger.
type LoggerConfig struct {
	Level      LogLevel
	Format     string // "json" or "text"
	Service    string
	AddCaller  bool
	TimeFormat string
}

// DefaultLoggerConfig returns a logger config with sensible defaults.
func DefaultLoggerConfig() LoggerConfig {
	return LoggerConfig{
		Level:      LogLevelInfo,
		Format:     "text",
		TimeFormat: time.RFC3339,
	}
}

func levelOf(l LogLevel) logrus.Level {
	switch l {
	case LogLevelDebug:
		return logrus.DebugLevel
	case LogLevelWarn:
		return logrus.WarnLevel
	case LogLevelError:
		return logrus.ErrorLevel
	case LogLevelFatal:
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

// NewLogger creates a new configured logger instance.
func NewLogger(config LoggerConfig) *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(levelOf(config.Level))

	if config.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: config.TimeFormat,
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: config.TimeFormat,
			FullTimestamp:   true,
		})
	}

	logger.SetReportCaller(config.AddCaller)
	logger.SetOutput(&OutputSplitter{})

	return logger
}

// LevelSetting is the minimal interface the live level-refresh loop needs
// from the settings store (C4), kept narrow so common does not import
// settings and create a cycle.
type LevelSetting interface {
	Get(name string) (string, error)
}

// RefreshLevel starts a goroutine that re-reads the LOG_LEVEL setting at
// the given interval and applies it to logger.SetLevel, implementing
// §4.11's "periodic refresh propagates the current log-level setting to
// the process logger". It returns a stop function.
func RefreshLevel(logger *logrus.Logger, settings LevelSetting, settingName string, interval time.Duration) (stop func()) {
	done := make(chan struct{})
	var stopped int32

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				val, err := settings.Get(settingName)
				if err != nil || val == "" {
					continue
				}
				logger.SetLevel(levelOf(LogLevel(val)))
			}
		}
	}()

	return func() {
		if atomic.CompareAndSwapInt32(&stopped, 0, 1) {
			close(done)
		}
	}
}
