package app

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// ParseLogLevel maps a level name to its slog.Level. Matching is
// case-insensitive.
func ParseLogLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("invalid log-level %q: must be 'debug', 'info', 'warn', or 'error'", name)
}

// ParseLogFormat validates a log output format name and returns it
// normalized to lower case.
func ParseLogFormat(name string) (string, error) {
	format := strings.ToLower(name)
	if format != "text" && format != "json" {
		return "", fmt.Errorf("invalid log-format %q: must be 'text' or 'json'", name)
	}
	return format, nil
}

// newLogger builds an isolated slog.Logger writing to outW. It does not
// touch the global logger. Unknown levels fall back to info and unknown
// formats to text, so the app always has a usable logger even when the
// caller skipped validation.
func newLogger(levelStr, formatStr string, outW io.Writer) *slog.Logger {
	level, err := ParseLogLevel(levelStr)
	if err != nil {
		level = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if format, _ := ParseLogFormat(formatStr); format == "json" {
		handler = slog.NewJSONHandler(outW, handlerOpts)
	} else {
		handler = slog.NewTextHandler(outW, handlerOpts)
	}
	return slog.New(handler)
}
