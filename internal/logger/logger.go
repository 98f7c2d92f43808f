// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
)

var logLevel = new(slog.LevelVar)

// Levels lists the accepted log levels
func Levels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Formats lists the accepted log formats
func Formats() []string {
	return []string{"text", "json"}
}

// New returns a logger writing to w. level falls back to info when
// unknown; an unknown format panics as it is validated by config first.
func New(level, format string, w io.Writer) *slog.Logger {
	lvl, err := ParseLevel(level)
	if err != nil {
		lvl = slog.LevelInfo
	}
	logLevel.Set(lvl)
	return slog.New(handlerForFormat(format, logLevel, w))
}

// LogLevel returns the level of the last logger created by New
func LogLevel() slog.Level {
	return logLevel.Level()
}

// ParseLevel maps a level name to its slog.Level
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
}

func handlerForFormat(format string, level slog.Leveler, w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   true,
		ReplaceAttr: trimSource,
	}

	switch format {
	case "json":
		return slog.NewJSONHandler(w, opts)
	case "text":
		return slog.NewTextHandler(w, opts)
	default:
		panic(fmt.Sprintf("invalid format: %s", format))
	}
}

// trimSource shortens the source file to "<package>/<file>"
func trimSource(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.SourceKey {
		return a
	}
	src, ok := a.Value.Any().(*slog.Source)
	if !ok {
		return a
	}
	parts := strings.Split(filepath.ToSlash(src.File), "/")
	if len(parts) > 2 {
		parts = parts[len(parts)-2:]
	}
	src.File = strings.Join(parts, "/")
	return a
}
