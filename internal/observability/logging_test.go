package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("invalid JSON log line %q: %v", buf.String(), err)
	}
	return entry
}

func TestNewLoggerDefaultsToJSONInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf})

	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug record written at info level: %s", buf.String())
	}

	logger.Info("visible", "count", 3)
	entry := decodeLine(t, &buf)
	if entry["msg"] != "visible" {
		t.Errorf("msg = %v, want visible", entry["msg"])
	}
	if entry["count"] != float64(3) {
		t.Errorf("count = %v, want 3", entry["count"])
	}
}

func TestNewLoggerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf, Format: "text", Level: "debug"})
	logger.Debug("hello", "k", "v")
	if !strings.Contains(buf.String(), "msg=hello") || !strings.Contains(buf.String(), "k=v") {
		t.Fatalf("unexpected text output: %s", buf.String())
	}
}

func TestLoggerAddsCorrelationFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf})

	ctx := AddRunID(context.Background(), "run-1")
	ctx = AddConversationID(ctx, "conv-1")
	ctx = AddUserID(ctx, "user-1")
	ctx = AddToolCallID(ctx, "call-1")
	logger.InfoContext(ctx, "tool executed")

	entry := decodeLine(t, &buf)
	for key, want := range map[string]string{
		"run_id":          "run-1",
		"conversation_id": "conv-1",
		"user_id":         "user-1",
		"tool_call_id":    "call-1",
	} {
		if entry[key] != want {
			t.Errorf("%s = %v, want %s", key, entry[key], want)
		}
	}
}

func TestLoggerRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf})

	logger.Info("using api_key=abcdefghijklmnop1234",
		"password", "hunter22",
		"error", errors.New("auth failed: bearer abcdefghijklmnopqrstuvwxyz"),
	)
	out := buf.String()
	for _, secret := range []string{"abcdefghijklmnop1234", "hunter22", "abcdefghijklmnopqrstuvwxyz"} {
		if strings.Contains(out, secret) {
			t.Errorf("secret %q leaked: %s", secret, out)
		}
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Errorf("expected redaction marker: %s", out)
	}
}

func TestRedactingHandlerWithAttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	handler := NewRedactingHandler(slog.NewJSONHandler(&buf, nil), `internal-\d+`)
	logger := slog.New(handler).With("token", "should-hide").WithGroup("req")
	logger.Info("ok", "host", "internal-42")

	out := buf.String()
	if strings.Contains(out, "should-hide") {
		t.Errorf("With attrs not redacted: %s", out)
	}
	if strings.Contains(out, "internal-42") {
		t.Errorf("custom pattern not applied: %s", out)
	}
}

func TestLogLevelFromString(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := LogLevelFromString(in); got != want {
			t.Errorf("LogLevelFromString(%q) = %v, want %v", in, got, want)
		}
	}
}
