package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/MrWong99/harbor/internal/config"
)

func TestNewLoggerLevels(t *testing.T) {
	cases := []struct {
		level config.LogLevel
		want  slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tc := range cases {
		logger := newLogger(tc.level)
		if !logger.Enabled(context.Background(), tc.want) {
			t.Errorf("level %q: logger not enabled at %s", tc.level, tc.want)
		}
		if logger.Enabled(context.Background(), tc.want-1) && tc.want != slog.LevelDebug {
			t.Errorf("level %q: logger unexpectedly enabled below its configured level", tc.level)
		}
	}
}
