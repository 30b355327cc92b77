package usecase

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"biometric-key-service/internal/domain"
	"biometric-key-service/internal/gate"
	"biometric-key-service/internal/keystore"
	"biometric-key-service/internal/metrics"
	"biometric-key-service/internal/platform"
)

var tracer = otel.Tracer("biometric-key-service/internal/usecase")

// KeyStore は鍵ストアのインターフェース。
type KeyStore interface {
	EnsureKey(ctx context.Context, name string) error
	RegenerateKey(ctx context.Context, name string) error
	BuildCipher(ctx context.Context, name string, purpose domain.Purpose, iv []byte) (*keystore.Session, error)
	IsHardwareBacked(ctx context.Context) bool
}

// Gate は生体認証ゲートのインターフェース。
type Gate interface {
	Authenticate(ctx context.Context, req gate.Request) (*gate.Pending, error)
	Busy() bool
	Stop()
	State() domain.GateState
}

// BiometricSensor はセンサーの状態を問い合わせるインターフェース。
type BiometricSensor interface {
	IsHardwareDetected(ctx context.Context) bool
	HasEnrolledTemplates(ctx context.Context) bool
}

// Permissions はパーミッションのインターフェース。
type Permissions interface {
	Has(ctx context.Context, permission string) bool
	Request(ctx context.Context, permission string)
}

// Platform はプラットフォーム情報のインターフェース。
type Platform interface {
	Level() int
}

// AuthService は生体認証で保護された鍵によるenroll/verifyの流れを提供する。
type AuthService struct {
	keys        KeyStore
	gate        Gate
	sensor      BiometricSensor
	permissions Permissions
	platform    Platform
	minLevel    int

	// submitMu はゲートの空き確認から要求の提出までを直列化する。
	submitMu sync.Mutex
}

// NewAuthService は新しいAuthServiceを生成する。
func NewAuthService(keys KeyStore, g Gate, sensor BiometricSensor, permissions Permissions, p Platform) *AuthService {
	return &AuthService{
		keys:        keys,
		gate:        g,
		sensor:      sensor,
		permissions: permissions,
		platform:    p,
		minLevel:    platform.MinBiometricLevel,
	}
}

// CheckSupport は端末の生体認証サポート状況を返す。
// 最初に該当した不適格条件で判定を打ち切る。パーミッションが無いことは
// サポート状況には影響しない。
func (s *AuthService) CheckSupport(ctx context.Context) domain.SupportStatus {
	ctx, span := tracer.Start(ctx, "AuthService.CheckSupport")
	defer span.End()

	status, reason := s.checkSupport(ctx)
	metrics.SupportChecksTotal.WithLabelValues(string(status)).Inc()
	span.SetAttributes(attribute.String("support.status", string(status)))
	if reason != "" {
		slog.InfoContext(ctx, "biometric support limited", "status", string(status), "reason", reason)
	}
	return status
}

func (s *AuthService) checkSupport(ctx context.Context) (domain.SupportStatus, string) {
	if s.platform.Level() < s.minLevel {
		return domain.SupportUnsupported, "platform level too low"
	}
	if !s.keys.IsHardwareBacked(ctx) {
		return domain.SupportUnsupported, "keys are not hardware backed"
	}
	if !s.permissions.Has(ctx, platform.PermissionBiometric) {
		slog.InfoContext(ctx, "biometric permission not granted yet")
	}
	if !s.sensor.IsHardwareDetected(ctx) {
		return domain.SupportUnsupported, "no biometric sensor"
	}
	if !s.sensor.HasEnrolledTemplates(ctx) {
		return domain.SupportUnavailable, "no enrolled fingerprints"
	}
	return domain.SupportAvailable, ""
}

// Enroll は payload を鍵で暗号化する認証要求を提出する。
// 成功すると結果に暗号文とIVが URL-safe base64 で入る。
// 鍵が指紋の再登録で無効化されていた場合は作り直してから暗号化する。
func (s *AuthService) Enroll(ctx context.Context, keyName string, payload []byte) (*gate.Pending, error) {
	ctx, span := tracer.Start(ctx, "AuthService.Enroll", trace.WithAttributes(attribute.String("key.name", keyName)))
	defer span.End()

	p, err := s.enroll(ctx, keyName, payload)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("request.id", p.ID()))
	return p, nil
}

func (s *AuthService) enroll(ctx context.Context, keyName string, payload []byte) (*gate.Pending, error) {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	if err := s.reserve(ctx, keyName); err != nil {
		return nil, err
	}
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if err := s.keys.EnsureKey(ctx, keyName); err != nil {
		return nil, fmt.Errorf("ensuring key: %w", err)
	}

	session, err := s.keys.BuildCipher(ctx, keyName, domain.PurposeApply, nil)
	if errors.Is(err, domain.ErrKeyInvalidated) {
		slog.WarnContext(ctx, "regenerating invalidated key", "key_name", keyName)
		if err := s.keys.RegenerateKey(ctx, keyName); err != nil {
			return nil, fmt.Errorf("regenerating key: %w", err)
		}
		session, err = s.keys.BuildCipher(ctx, keyName, domain.PurposeApply, nil)
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to build cipher",
			"operation", "enroll",
			"key_name", keyName,
			"error", err,
		)
		return nil, fmt.Errorf("building cipher: %w", err)
	}

	return s.gate.Authenticate(ctx, gate.Request{
		KeyName: keyName,
		Purpose: domain.PurposeApply,
		Session: session,
		Payload: payload,
	})
}

// Verify は保存済みの暗号文を復号する認証要求を提出する。
// 復号結果が expected と一致しない場合、結果は Failed になる。
// 鍵が無効化されている場合はセンサーを使う前に domain.ErrKeyInvalidated を返す。
func (s *AuthService) Verify(ctx context.Context, keyName, ciphertextBase64, ivBase64 string, expected []byte) (*gate.Pending, error) {
	ctx, span := tracer.Start(ctx, "AuthService.Verify", trace.WithAttributes(attribute.String("key.name", keyName)))
	defer span.End()

	p, err := s.verify(ctx, keyName, ciphertextBase64, ivBase64, expected)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("request.id", p.ID()))
	return p, nil
}

func (s *AuthService) verify(ctx context.Context, keyName, ciphertextBase64, ivBase64 string, expected []byte) (*gate.Pending, error) {
	ciphertext, err := domain.DecodeBase64(ciphertextBase64)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding ciphertext: %v", domain.ErrCryptoFailure, err)
	}
	iv, err := domain.DecodeBase64(ivBase64)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding iv: %v", domain.ErrCryptoFailure, err)
	}
	if len(iv) == 0 {
		return nil, domain.ErrIVRequired
	}

	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	if err := s.reserve(ctx, keyName); err != nil {
		return nil, err
	}
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	session, err := s.keys.BuildCipher(ctx, keyName, domain.PurposeVerify, iv)
	if err != nil {
		slog.ErrorContext(ctx, "failed to build cipher",
			"operation", "verify",
			"key_name", keyName,
			"error", err,
		)
		return nil, fmt.Errorf("building cipher: %w", err)
	}

	return s.gate.Authenticate(ctx, gate.Request{
		KeyName: keyName,
		Purpose: domain.PurposeVerify,
		Session: session,
		Payload: ciphertext,
		Check: func(plaintext []byte) error {
			if subtle.ConstantTimeCompare(plaintext, expected) != 1 {
				return fmt.Errorf("%w: decrypted payload does not match", domain.ErrCryptoFailure)
			}
			return nil
		},
	})
}

// reserve は進行中の要求があれば鍵ストアに触れる前に拒否する。submitMu を保持して呼ぶ。
func (s *AuthService) reserve(ctx context.Context, keyName string) error {
	if s.gate.Busy() {
		slog.InfoContext(ctx, "rejecting request while another is in progress", "key_name", keyName)
		return domain.ErrAuthenticationInProgress
	}
	return nil
}

// ready は認証を始められる状態かを確認する。パーミッションが無ければ要求する。
func (s *AuthService) ready(ctx context.Context) error {
	switch status, _ := s.checkSupport(ctx); status {
	case domain.SupportUnsupported:
		return domain.ErrUnsupportedPlatform
	case domain.SupportUnavailable:
		return domain.ErrBiometricUnavailable
	}
	if !s.permissions.Has(ctx, platform.PermissionBiometric) {
		s.permissions.Request(ctx, platform.PermissionBiometric)
		if !s.permissions.Has(ctx, platform.PermissionBiometric) {
			return domain.ErrPermissionDenied
		}
	}
	return nil
}

// Cancel は進行中の認証要求をキャンセルする。要求が無ければ何もしない。
func (s *AuthService) Cancel(ctx context.Context) {
	_, span := tracer.Start(ctx, "AuthService.Cancel")
	defer span.End()
	s.gate.Stop()
}

// State は生体認証ゲートの状態を返す。
func (s *AuthService) State() domain.GateState {
	return s.gate.State()
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
