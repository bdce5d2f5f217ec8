package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mcdiamondfire/modapi/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		raw     string
		want    zapcore.Level
		wantErr bool
	}{
		{raw: "", want: zap.InfoLevel},
		{raw: "info", want: zap.InfoLevel},
		{raw: " DEBUG ", want: zap.DebugLevel},
		{raw: "warning", want: zap.WarnLevel},
		{raw: "error", want: zap.ErrorLevel},
		{raw: "verbose", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseLevel(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseLevel(%q) succeeded, want error", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseLevel(%q) error = %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNewFileOutput(t *testing.T) {
	tests := []struct {
		name   string
		rotate bool
	}{
		{name: "plain file", rotate: false},
		{name: "rotated file", rotate: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "logs", "modapi.log")
			logger, err := New(config.LogConfig{
				Level:    "debug",
				Format:   "json",
				Outputs:  []string{path},
				Rotation: config.RotationConfig{Enable: tt.rotate, MaxSizeMB: 1},
			})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}

			logger.Debug("frame dropped", zap.String("packet_id", "c2s_player_teleport"))
			logger.Sync()

			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("read log: %v", err)
			}
			line := strings.TrimSpace(string(data))
			var entry map[string]any
			if err := json.Unmarshal([]byte(line), &entry); err != nil {
				t.Fatalf("log line %q is not json: %v", line, err)
			}
			if entry["msg"] != "frame dropped" || entry["packet_id"] != "c2s_player_teleport" {
				t.Errorf("log entry = %v", entry)
			}
		})
	}
}

func TestNewLevelFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modapi.log")
	logger, err := New(config.LogConfig{Level: "warn", Format: "console", Outputs: []string{path}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	logger.Info("hidden")
	logger.Warn("visible")
	logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if strings.Contains(string(data), "hidden") {
		t.Error("info entry written at warn level")
	}
	if !strings.Contains(string(data), "visible") {
		t.Error("warn entry missing")
	}
}

func TestNewInvalidLevel(t *testing.T) {
	if _, err := New(config.LogConfig{Level: "loud"}); err == nil {
		t.Error("New() with unknown level succeeded")
	}
}

func TestSetupInstallsGlobal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modapi.log")
	logger, err := Setup(config.LogConfig{Level: "info", Format: "json", Outputs: []string{path}})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	t.Cleanup(func() { zap.ReplaceGlobals(zap.NewNop()) })

	if zap.L() != logger {
		t.Error("Setup() did not install the global logger")
	}
}
