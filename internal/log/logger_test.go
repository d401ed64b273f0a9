package log

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"firestige.xyz/pktstack/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := parseLevel(tt.input)
			if err != nil {
				t.Errorf("parseLevel(%q) returned error: %v", tt.input, err)
			}
			if level != tt.expected {
				t.Errorf("parseLevel(%q) = %v, expected %v", tt.input, level, tt.expected)
			}
		})
	}

	for _, input := range []string{"trace", "fatal", ""} {
		if _, err := parseLevel(input); err == nil {
			t.Errorf("parseLevel(%q) should return error, got nil", input)
		}
	}
}

func TestInit(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	if err := Init(config.LogConfig{Level: "info", Format: "json"}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if slog.Default() == prev {
		t.Error("Expected Init to replace the default logger")
	}
}

func TestNewLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message", "frags", 3)

	output := buf.String()
	if strings.Contains(output, "debug message") || strings.Contains(output, "info message") {
		t.Errorf("Messages below warn should be filtered, got %s", output)
	}
	if !strings.Contains(output, `"msg":"warn message"`) || !strings.Contains(output, `"frags":3`) {
		t.Errorf("Expected JSON warn record, got %s", output)
	}
}

func TestNewTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(config.LogConfig{Level: "info", Format: "text"}, &buf)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.Info("stream flushed", "key", "10.0.0.1:80")
	if !strings.Contains(buf.String(), "key=10.0.0.1:80") {
		t.Errorf("Text output should contain key=value, got %s", buf.String())
	}
}

func TestNewWithFileOutput(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")

	var console bytes.Buffer
	logger, err := New(config.LogConfig{
		Level:  "debug",
		Format: "text",
		Outputs: config.LogOutputsConfig{
			File: config.FileOutputConfig{
				Enabled: true,
				Path:    logPath,
				Rotation: config.RotationConfig{
					MaxSizeMB:  10,
					MaxBackups: 3,
					MaxAgeDays: 7,
				},
			},
		},
	}, &console)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.Debug("to both outputs")

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Log file was not created at %s: %v", logPath, err)
	}
	if !strings.Contains(string(data), "to both outputs") {
		t.Errorf("File output missing record, got %s", data)
	}
	if !strings.Contains(console.String(), "to both outputs") {
		t.Errorf("Console output missing record, got %s", console.String())
	}
}

func TestNewErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.LogConfig
		want string
	}{
		{"InvalidLevel", config.LogConfig{Level: "invalid", Format: "json"}, "invalid log level"},
		{"InvalidFormat", config.LogConfig{Level: "info", Format: "xml"}, "unsupported log format"},
		{"MissingFilePath", config.LogConfig{
			Level:   "info",
			Format:  "json",
			Outputs: config.LogOutputsConfig{File: config.FileOutputConfig{Enabled: true}},
		}, "path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, &bytes.Buffer{})
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got: %v", tt.want, err)
			}
		})
	}
}
