// Package metrics はPrometheusメトリクスを提供する。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "biometric_key"

// ステータスラベルの値。
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// キー操作名。
const (
	OpEnsureKey     = "ensure_key"
	OpRegenerateKey = "regenerate_key"
	OpBuildCipher   = "build_cipher"
	OpHardwareProbe = "hardware_probe"
)

var (
	// KeyOperationsTotal はSecureKeyStoreの操作数を操作・ステータス別に数える。
	KeyOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_operations_total",
			Help:      "Total number of key store operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	// AuthenticationOutcomesTotal は利用者に届けた認証結果を目的・種類別に数える。
	AuthenticationOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authentication_outcomes_total",
			Help:      "Total number of delivered authentication outcomes by purpose and kind",
		},
		[]string{"purpose", "kind"},
	)

	// AuthenticationsCancelledTotal はキャンセルされた認証要求の数。
	AuthenticationsCancelledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authentications_cancelled_total",
			Help:      "Total number of cancelled authentication requests",
		},
	)

	// SupportChecksTotal はサポート判定の結果別の回数。
	SupportChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "support_checks_total",
			Help:      "Total number of support checks by resulting status",
		},
		[]string{"status"},
	)
)

// RecordKeyOperation はキー操作の結果を記録する。
func RecordKeyOperation(operation string, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	KeyOperationsTotal.WithLabelValues(operation, status).Inc()
}
