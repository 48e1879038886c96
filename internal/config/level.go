package config

import (
	"fmt"
	"log/slog"
	"strings"
)

// ParseLevel převede LOG_LEVEL (debug, info, warn, error) na slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("neznámá úroveň logování: %q", s)
}
