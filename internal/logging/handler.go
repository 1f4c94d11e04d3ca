// Package logging builds the process-wide slog handler.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// ParseLevel maps a LOG_LEVEL value (DEBUG, INFO, WARN/WARNING, ERROR, any case) to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR", "CRITICAL":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// NewHandler returns a JSON handler, or a colourised human-readable one when
// format is "pretty":
//
//	15:04:05 INF msg key=value key=value
func NewHandler(out io.Writer, level slog.Level, format string) slog.Handler {
	if strings.EqualFold(format, "pretty") {
		return tint.NewHandler(out, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
		})
	}
	return slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
}

// Setup installs the handler as the slog default and returns the logger.
// An unknown level still installs a logger at INFO and reports the error.
func Setup(out io.Writer, levelName, format string) (*slog.Logger, error) {
	level, err := ParseLevel(levelName)
	logger := slog.New(NewHandler(out, level, format))
	slog.SetDefault(logger)
	return logger, err
}
