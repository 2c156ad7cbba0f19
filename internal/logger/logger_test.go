package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNew_WritesJSONWithServiceAndComponent(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "indstream-test", slog.LevelInfo)
	Component(l, "poller").Info("tick", "symbol", "AAPL")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	for k, want := range map[string]string{"service": "indstream-test", "component": "poller", "symbol": "AAPL", "msg": "tick"} {
		if rec[k] != want {
			t.Errorf("%s = %v, want %q", k, rec[k], want)
		}
	}
}

func TestNew_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "svc", slog.LevelWarn)
	l.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info logged at warn level: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestTraceID_RoundTrip(t *testing.T) {
	ctx := context.Background()

	// No trace ID set
	if tid := TraceID(ctx); tid != "" {
		t.Errorf("expected empty trace id, got %q", tid)
	}
	if attrs := LogWithTrace(ctx); attrs != nil {
		t.Errorf("expected nil attrs, got %v", attrs)
	}

	id := NewTraceID()
	ctx = WithTraceID(ctx, id)
	if tid := TraceID(ctx); tid != id {
		t.Errorf("expected %q, got %q", id, tid)
	}
	if attrs := LogWithTrace(ctx); len(attrs) != 1 {
		t.Errorf("expected 1 attr, got %v", attrs)
	}
	if NewTraceID() == id {
		t.Error("trace ids should be unique")
	}
}
