package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	logger := New(Config{})
	if logger == nil {
		t.Fatal("New() returned nil")
	}
}

func TestNewWithWriter_TextFormat(t *testing.T) {
	var buf bytes.Buffer

	logger := NewWithWriter(&buf, Config{Level: slog.LevelDebug})
	logger.Info("embedding stored", "source_type", "document")

	output := buf.String()
	if !strings.Contains(output, "embedding stored") {
		t.Errorf("expected message in output, got: %s", output)
	}
	if !strings.Contains(output, "source_type=document") {
		t.Errorf("expected attribute in output, got: %s", output)
	}
}

func TestNewWithWriter_JSONFormat(t *testing.T) {
	var buf bytes.Buffer

	logger := NewWithWriter(&buf, Config{Level: slog.LevelInfo, JSON: true})
	logger.Info("search completed", "hits", 3)

	output := buf.String()
	if !strings.Contains(output, `"msg":"search completed"`) {
		t.Errorf("expected JSON output with msg field, got: %s", output)
	}
	if !strings.Contains(output, `"hits":3`) {
		t.Errorf("expected JSON output with hits field, got: %s", output)
	}
}

func TestNewNop(t *testing.T) {
	logger := NewNop()
	if logger == nil {
		t.Fatal("NewNop() returned nil")
	}

	// Should not panic
	logger.Info("this should be discarded")
	logger.Error("this too")
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer

	logger := NewWithWriter(&buf, Config{Level: slog.LevelInfo})
	logger.With("component", "chat").Info("turn persisted")

	if !strings.Contains(buf.String(), "component=chat") {
		t.Errorf("expected component attribute, got: %s", buf.String())
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		name       string
		level      slog.Level
		wantDebug  bool
		wantInfo   bool
	}{
		{name: "debug level passes everything", level: slog.LevelDebug, wantDebug: true, wantInfo: true},
		{name: "info level drops debug", level: slog.LevelInfo, wantDebug: false, wantInfo: true},
		{name: "error level drops info", level: slog.LevelError, wantDebug: false, wantInfo: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewWithWriter(&buf, Config{Level: tt.level})

			logger.Debug("debug line")
			logger.Info("info line")

			output := buf.String()
			if got := strings.Contains(output, "debug line"); got != tt.wantDebug {
				t.Errorf("debug line present = %v, want %v", got, tt.wantDebug)
			}
			if got := strings.Contains(output, "info line"); got != tt.wantInfo {
				t.Errorf("info line present = %v, want %v", got, tt.wantInfo)
			}
		})
	}
}
