package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("expected default level to be info, got %s", cfg.Level)
	}
	if cfg.ServiceName != "meetwise" {
		t.Errorf("expected default service name to be 'meetwise', got %s", cfg.ServiceName)
	}
	if cfg.JSONFormat {
		t.Error("expected default JSONFormat to be false")
	}
}

func TestNewLogger_NilConfig(t *testing.T) {
	if NewLogger(nil) == nil {
		t.Error("expected non-nil logger with nil config")
	}
}

func jsonLogger(buf *bytes.Buffer) Logger {
	return NewLogger(&Config{
		Level:       LevelDebug,
		ServiceName: "test-service",
		Environment: "testing",
		JSONFormat:  true,
		Output:      buf,
	})
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("failed to parse JSON output: %v (%q)", err, buf.String())
	}
	return out
}

func TestLogger_JSONFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := jsonLogger(buf)

	log.Info("stage done",
		MeetingID("m1"),
		JobID("j1"),
		F("attempt", 2),
		F("elapsed", 1500*time.Millisecond),
		Err(errors.New("boom")),
	)

	out := decode(t, buf)
	if out["message"] != "stage done" {
		t.Errorf("unexpected message %v", out["message"])
	}
	if out["service_name"] != "test-service" {
		t.Errorf("unexpected service_name %v", out["service_name"])
	}
	if out["meeting_id"] != "m1" || out["job_id"] != "j1" {
		t.Errorf("missing id fields: %v", out)
	}
	if out["attempt"] != float64(2) {
		t.Errorf("expected attempt 2, got %v", out["attempt"])
	}
	if out["error"] != "boom" {
		t.Errorf("expected error boom, got %v", out["error"])
	}
}

func TestLogger_With(t *testing.T) {
	buf := &bytes.Buffer{}
	log := jsonLogger(buf).With(Component("orchestrator"))

	log.Warn("dropped")

	out := decode(t, buf)
	if out["component"] != "orchestrator" {
		t.Errorf("expected component field, got %v", out["component"])
	}
	if out["level"] != "warn" {
		t.Errorf("expected warn level, got %v", out["level"])
	}
}

func TestLogger_WithContext(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := context.WithValue(context.Background(), RequestIDKey, "req-1")
	jsonLogger(buf).WithContext(ctx).Error("failed")

	out := decode(t, buf)
	if out["request_id"] != "req-1" {
		t.Errorf("expected request_id, got %v", out["request_id"])
	}
}

func TestLogger_ConsoleFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewLogger(&Config{Level: LevelInfo, ServiceName: "svc", Output: buf})
	log.Info("hello", F("k", "v"))

	if !strings.Contains(buf.String(), "hello") {
		t.Errorf("expected console output to contain message, got %q", buf.String())
	}
}

func TestLogger_RotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meetwise.log")
	buf := &bytes.Buffer{}
	log := NewLogger(&Config{
		Level:      LevelInfo,
		JSONFormat: true,
		Output:     buf,
		File:       &FileConfig{Path: path},
	})
	log.Info("to file")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Errorf("expected file to contain entry, got %q", string(data))
	}
	if !strings.Contains(buf.String(), "to file") {
		t.Errorf("expected primary output to contain entry")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug": LevelDebug,
		"warn":  LevelWarn,
		"error": LevelError,
		"":      LevelInfo,
		"loud":  LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestNopLogger(t *testing.T) {
	log := NewNopLogger()
	log.Info("ignored")
	if log.With(F("a", 1)) != log {
		t.Error("nop With should return itself")
	}
}
