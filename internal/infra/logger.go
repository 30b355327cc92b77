package infra

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"biometric-key-service/config"
)

// redactedKeys はログに値を出してはいけない属性名。
var redactedKeys = map[string]bool{
	"payload":    true,
	"plaintext":  true,
	"ciphertext": true,
	"iv":         true,
	"key":        true,
	"material":   true,
}

const redacted = "[REDACTED]"

// TraceHandler はスパンのトレースIDをログに付与するslogハンドラ。
// GOOGLE_CLOUD_PROJECT が設定されていればCloud Logging連携用のフィールドも付ける。
type TraceHandler struct {
	handler     slog.Handler
	projectID   string
	otelEnabled bool
}

// NewTraceHandler はトレース情報付きのslogハンドラを生成する。
func NewTraceHandler(handler slog.Handler, cfg *config.Config) *TraceHandler {
	return &TraceHandler{
		handler:     handler,
		projectID:   cfg.GoogleCloudProject,
		otelEnabled: cfg.OtelEnabled,
	}
}

// Enabled はハンドラがログを処理するかどうかを返す。
func (h *TraceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// Handle はログレコードにトレース情報を付与して次のハンドラに渡す。
func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.otelEnabled {
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			r.AddAttrs(h.traceAttrs(sc)...)
		}
	}
	return h.handler.Handle(ctx, r)
}

func (h *TraceHandler) traceAttrs(sc trace.SpanContext) []slog.Attr {
	traceID := sc.TraceID().String()
	spanID := sc.SpanID().String()
	attrs := []slog.Attr{
		slog.String("trace", traceID),
		slog.String("spanId", spanID),
		slog.Bool("traceSampled", sc.IsSampled()),
	}
	if h.projectID != "" {
		attrs = append(attrs,
			slog.String("logging.googleapis.com/trace", "projects/"+h.projectID+"/traces/"+traceID),
			slog.String("logging.googleapis.com/spanId", spanID),
		)
	}
	return attrs
}

// WithAttrs は属性を追加した新しいハンドラを返す。
func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.handler = h.handler.WithAttrs(attrs)
	return &clone
}

// WithGroup はグループを追加した新しいハンドラを返す。
func (h *TraceHandler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.handler = h.handler.WithGroup(name)
	return &clone
}

// ParseLevel はLOG_LEVELの値をslogのレベルに変換する。未知の値はINFOになる。
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// redactSecrets はペイロードやIVなどの値を伏せる。
func redactSecrets(groups []string, a slog.Attr) slog.Attr {
	if redactedKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, redacted)
	}
	return a
}

// SetupLogger はトレース情報付きのグローバルロガーを設定する。
func SetupLogger(cfg *config.Config) {
	SetupLoggerTo(os.Stdout, cfg)
}

// SetupLoggerTo は出力先を指定してグローバルロガーを設定する。
func SetupLoggerTo(w io.Writer, cfg *config.Config) {
	jsonHandler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       ParseLevel(cfg.LogLevel),
		ReplaceAttr: redactSecrets,
	})
	slog.SetDefault(slog.New(NewTraceHandler(jsonHandler, cfg)))
}
