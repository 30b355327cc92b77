// Package middleware はHTTPミドルウェアと監査ログを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// 監査ログの操作名。
const (
	AuditCheckSupport = "CHECK_SUPPORT"
	AuditEnroll       = "ENROLL"
	AuditVerify       = "VERIFY"
	AuditCancel       = "CANCEL"
	AuditAuthOutcome  = "AUTH_OUTCOME"
)

// AuditLog は監査ログの構造体。
type AuditLog struct {
	Operation string `json:"operation"`
	KeyName   string `json:"key_name,omitempty"`
	Purpose   string `json:"purpose,omitempty"`
	Result    string `json:"result"`
	Timestamp string `json:"timestamp"`
}

// WriteAuditLog は監査ログを出力する。ペイロードやIVは含めない。
func WriteAuditLog(ctx context.Context, operation, keyName, purpose, result string) {
	slog.InfoContext(ctx, "audit",
		"operation", operation,
		"key_name", keyName,
		"purpose", purpose,
		"result", result,
		"timestamp", time.Now().UTC().Format(time.RFC3339),
	)
}

// RequestLogger はリクエストごとにslogでアクセスログを出力する。
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		slog.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", chimiddleware.GetReqID(r.Context()),
		)
	})
}
