package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestEnrich_AddsRequestAndCorrelationIDs(t *testing.T) {
	var buf bytes.Buffer
	base := New(&buf, "info", "json")

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-7")
	ctx = WithCorrelationID(ctx, "corr-9")
	Enrich(ctx, base).Info("hello", "records", 3)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
	}
	if entry["request_id"] != "req-7" {
		t.Errorf("request_id = %v", entry["request_id"])
	}
	if entry["correlation_id"] != "corr-9" {
		t.Errorf("correlation_id = %v", entry["correlation_id"])
	}
	if entry["records"] != float64(3) {
		t.Errorf("records = %v", entry["records"])
	}
}

func TestWithCorrelationID_EmptyIsIgnored(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "")
	if got := CorrelationID(ctx); got != "" {
		t.Errorf("CorrelationID = %q, want empty", got)
	}
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "warn", "text").Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info written at warn level: %s", buf.String())
	}
}

func TestWithFields_KeepsContextIDs(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(New(&buf, "info", "json"))
	t.Cleanup(func() { slog.SetDefault(prev) })

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-3")
	WithFields(ctx, "batch_id", "b-1").Info("published")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["request_id"] != "req-3" || entry["batch_id"] != "b-1" {
		t.Errorf("entry = %v", entry)
	}
}
