// Package logger provides leveled logging with support for debug, info, warn, and error levels.
// It keeps a printf-style API on top of zerolog so call sites stay short while output
// is structured (JSON) or human readable (console) depending on the configured format.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Level represents a logging level
type Level int

const (
	// DebugLevel logs are typically voluminous, and are usually disabled in production.
	DebugLevel Level = iota
	// InfoLevel is the default logging priority.
	InfoLevel
	// WarnLevel logs are more important than Info, but don't need individual human review.
	WarnLevel
	// ErrorLevel logs are high-priority. If an application is running smoothly, it shouldn't generate any error-level logs.
	ErrorLevel
)

// defaultLogger discards everything until Init is called.
var defaultLogger = zerolog.Nop()

// ParseLevel maps a config string to a Level, falling back to InfoLevel.
func ParseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case DebugLevel:
		return zerolog.DebugLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Init initializes the default logger with the specified level and format
func Init(level string, format string) {
	InitWithWriter(os.Stderr, level, format)
}

// InitWithWriter is Init with an explicit destination.
func InitWithWriter(w io.Writer, level string, format string) {
	out := w
	if strings.ToLower(format) == "text" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	defaultLogger = zerolog.New(out).
		Level(ParseLevel(level).zerolog()).
		With().
		Timestamp().
		Logger()
}

// Component returns a child logger tagged with a component name, for call sites
// that prefer structured fields over printf.
func Component(name string) zerolog.Logger {
	return defaultLogger.With().Str("component", name).Logger()
}

// Debug logs a message at DebugLevel
func Debug(format string, args ...interface{}) {
	defaultLogger.Debug().Msgf(format, args...)
}

// Info logs a message at InfoLevel
func Info(format string, args ...interface{}) {
	defaultLogger.Info().Msgf(format, args...)
}

// Warn logs a message at WarnLevel
func Warn(format string, args ...interface{}) {
	defaultLogger.Warn().Msgf(format, args...)
}

// Error logs a message at ErrorLevel
func Error(format string, args ...interface{}) {
	defaultLogger.Error().Msgf(format, args...)
}

// Fatal logs a message and exits
func Fatal(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	defaultLogger.WithLevel(zerolog.FatalLevel).Msg(msg)
	if defaultLogger.GetLevel() == zerolog.Disabled {
		fmt.Fprintln(os.Stderr, "[FATAL] "+msg)
	}
	os.Exit(1)
}
