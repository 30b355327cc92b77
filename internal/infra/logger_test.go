package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"biometric-key-service/config"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"INFO":    slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("%s: want %v, got %v", in, want, got)
		}
	}
}

func TestTraceHandler_AddsTraceFields(t *testing.T) {
	var buf bytes.Buffer
	cfg := &config.Config{OtelEnabled: true, GoogleCloudProject: "proj"}
	logger := slog.New(NewTraceHandler(slog.NewJSONHandler(&buf, nil), cfg))

	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	logger.InfoContext(ctx, "authentication requested")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("invalid log json: %v", err)
	}
	if rec["trace"] != traceID.String() {
		t.Errorf("want trace %s, got %v", traceID, rec["trace"])
	}
	if rec["logging.googleapis.com/trace"] != "projects/proj/traces/"+traceID.String() {
		t.Errorf("want cloud logging trace, got %v", rec["logging.googleapis.com/trace"])
	}
}

func TestTraceHandler_DisabledLeavesRecord(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTraceHandler(slog.NewJSONHandler(&buf, nil), &config.Config{}))

	logger.Info("key generated", "key_name", "card-1")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("invalid log json: %v", err)
	}
	if _, ok := rec["trace"]; ok {
		t.Error("want no trace field when otel disabled")
	}
}

func TestSetupLoggerTo_RedactsSecrets(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	SetupLoggerTo(&buf, &config.Config{LogLevel: "DEBUG"})

	slog.Debug("transform", "key_name", "card-1", "payload", "com.example.app", "IV", "AAAA")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("invalid log json: %v", err)
	}
	if rec["payload"] != redacted || rec["IV"] != redacted {
		t.Errorf("want payload and iv redacted, got %v %v", rec["payload"], rec["IV"])
	}
	if rec["key_name"] != "card-1" {
		t.Errorf("want key_name kept, got %v", rec["key_name"])
	}
}
