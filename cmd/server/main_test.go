package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/studyloop/tutor-engine/internal/platform/config"
)

func TestSetupLogging(t *testing.T) {
	orig := slog.Default()
	defer slog.SetDefault(orig)

	tests := []struct {
		level   string
		enabled slog.Level
		muted   slog.Level
	}{
		{"debug", slog.LevelDebug, slog.LevelDebug - 4},
		{"info", slog.LevelInfo, slog.LevelDebug},
		{"warn", slog.LevelWarn, slog.LevelInfo},
		{"error", slog.LevelError, slog.LevelWarn},
		{"nonsense", slog.LevelInfo, slog.LevelDebug},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			setupLogging(config.LogConfig{Level: tt.level, Format: "json"})
			h := slog.Default().Handler()
			if !h.Enabled(context.Background(), tt.enabled) {
				t.Errorf("level %s not enabled", tt.enabled)
			}
			if h.Enabled(context.Background(), tt.muted) {
				t.Errorf("level %s unexpectedly enabled", tt.muted)
			}
		})
	}
}
