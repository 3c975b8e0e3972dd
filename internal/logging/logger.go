// Package logging provides structured logging for the blktrace module.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Logger wraps slog.Logger with the same level-gated, key-value call
// shape used throughout this module's commands and packages.
type Logger struct {
	logger *slog.Logger
	level  *slog.LevelVar
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// LogLevel mirrors slog's levels under names local to this package, so
// callers configuring a Logger don't need to import log/slog directly.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config holds logging configuration.
type Config struct {
	Level  LogLevel
	Output io.Writer
	// JSON selects JSON-line output (for log aggregation) over the
	// human-readable text handler (the default, for interactive use).
	JSON bool
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{Level: LevelInfo, Output: os.Stderr}
}

// NewLogger creates a new Logger.
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}
	lv := &slog.LevelVar{}
	lv.Set(config.Level.slogLevel())

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: lv}
	if config.JSON {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}
	return &Logger{logger: slog.New(handler), level: lv}
}

// Default returns the default logger, creating it if necessary.
func Default() *Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault sets the default logger.
func SetDefault(logger *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

// With returns a Logger that attaches the given key-value attributes
// to every subsequent call, e.g. logging.Default().With("device", dev).
func (l *Logger) With(args ...any) *Logger {
	return &Logger{logger: l.logger.With(args...), level: l.level}
}

func (l *Logger) Debug(msg string, args ...any) { l.logger.Log(context.Background(), slog.LevelDebug, msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.logger.Log(context.Background(), slog.LevelInfo, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.logger.Log(context.Background(), slog.LevelWarn, msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.logger.Log(context.Background(), slog.LevelError, msg, args...) }

func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
