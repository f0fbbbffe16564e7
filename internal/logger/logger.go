package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys used by the logger
type ContextKey string

const (
	// LoggerKey is the context key for the logger instance
	LoggerKey ContextKey = "logger"
)

// Output formats accepted by NewFromConfig.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// New creates a console logger at info level.
func New() zerolog.Logger {
	return newConsole(os.Stdout).Level(zerolog.InfoLevel)
}

// NewWithWriter creates a JSON logger writing to w.
func NewWithWriter(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Caller().Logger()
}

// NewFromConfig builds the process logger from the configured level and format.
func NewFromConfig(level, format string) (zerolog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), err
	}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatConsole:
		return newConsole(os.Stdout).Level(lvl), nil
	case FormatJSON:
		return NewWithWriter(os.Stdout).Level(lvl), nil
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", format)
	}
}

// ParseLevel maps a level name to a zerolog level. Empty means info.
func ParseLevel(level string) (zerolog.Level, error) {
	level = strings.TrimSpace(level)
	if level == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("parse log level %q: %w", level, err)
	}
	return lvl, nil
}

func newConsole(w io.Writer) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).With().Timestamp().Caller().Logger()
}

// WithContext adds the logger to the context
func WithContext(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// FromContext retrieves the logger from the context. Without one it returns a
// disabled logger, so nothing is written by accident.
func FromContext(ctx context.Context) zerolog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(zerolog.Logger); ok {
		return logger
	}
	return zerolog.Nop()
}

// WithFields adds structured fields to a logger
func WithFields(logger zerolog.Logger, fields map[string]interface{}) zerolog.Logger {
	ctx := logger.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return ctx.Logger()
}
