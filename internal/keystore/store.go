// Package keystore はハードウェア保護された対称鍵の生成・取得と、
// 鍵から使い捨ての暗号ハンドルを組み立てる処理を提供する。
//
// 鍵素材はvaultの外に出ない。アプリケーションは鍵名だけを保持し、
// 暗号処理は KeyHandle が返す cipher.Block を通して行う。
package keystore

import (
	"context"
	"crypto/cipher"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"biometric-key-service/internal/domain"
	"biometric-key-service/internal/metrics"
)

// probeKeyName はハードウェア判定用のプローブ鍵名。利用者の鍵とは名前空間を分ける。
const probeKeyName = domain.ProbeKeyPrefix + "hardware-check"

// KeyHandle はvault内の鍵への参照。
type KeyHandle interface {
	Name() string
	Spec() domain.KeySpec
	// Block は鍵を使う cipher.Block を返す。指紋の登録状態が変わって
	// 鍵が無効化されている場合は domain.ErrKeyInvalidated を返す。
	Block(ctx context.Context) (cipher.Block, error)
}

// KeyVault はハードウェア鍵ストアの抽象。
type KeyVault interface {
	// Generate は name の鍵を生成する。既存の鍵は上書きされる。
	Generate(ctx context.Context, name string, spec domain.KeySpec) error
	// Retrieve は鍵を取得する。存在しない場合は domain.ErrKeyNotFound を返す。
	Retrieve(ctx context.Context, name string) (KeyHandle, error)
	Describe(ctx context.Context, handle KeyHandle) (domain.KeyDescription, error)
}

// Store はSecureKeyStoreの実装。
type Store struct {
	vault KeyVault
	spec  domain.KeySpec

	// 鍵の生成と上書きを直列化し、EnsureKey の冪等性を保つ。
	mu sync.Mutex
}

// NewStore は新しいStoreを生成する。
func NewStore(vault KeyVault) *Store {
	return &Store{
		vault: vault,
		spec:  domain.DefaultKeySpec(),
	}
}

// EnsureKey は name の鍵が無ければ生成する。既にあれば何もしない。
func (s *Store) EnsureKey(ctx context.Context, name string) error {
	if err := domain.ValidateKeyName(name); err != nil {
		return err
	}
	err := s.ensure(ctx, name)
	metrics.RecordKeyOperation(metrics.OpEnsureKey, err)
	return err
}

// RegenerateKey は name の鍵を作り直す。以前の鍵で暗号化したデータは復号できなくなる。
func (s *Store) RegenerateKey(ctx context.Context, name string) error {
	if err := domain.ValidateKeyName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.generate(ctx, name)
	metrics.RecordKeyOperation(metrics.OpRegenerateKey, err)
	return err
}

func (s *Store) ensure(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.load(ctx, name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrKeyNotFound) {
		return fmt.Errorf("loading key: %w", err)
	}
	return s.generate(ctx, name)
}

func (s *Store) generate(ctx context.Context, name string) error {
	if err := s.vault.Generate(ctx, name, s.spec); err != nil {
		slog.ErrorContext(ctx, "failed to generate key",
			"operation", "generate_key",
			"key_name", name,
			"error", err,
		)
		return fmt.Errorf("%w: %v", domain.ErrKeyGenerationFailed, err)
	}
	slog.InfoContext(ctx, "key generated", "key_name", name)
	return nil
}

// load は鍵を取得する。一時的な失敗は1度だけ再試行する。
func (s *Store) load(ctx context.Context, name string) (KeyHandle, error) {
	handle, err := s.vault.Retrieve(ctx, name)
	if err == nil || errors.Is(err, domain.ErrKeyNotFound) {
		return handle, err
	}
	slog.WarnContext(ctx, "retrying key load",
		"operation", "load_key",
		"key_name", name,
		"error", err,
	)
	return s.vault.Retrieve(ctx, name)
}

// BuildCipher は鍵と目的から暗号ハンドルを組み立てる。
// 暗号化では iv は nil でなければならず、新しいIVはハンドルが選ぶ。
// 復号では暗号化時に得たIVが必須。
func (s *Store) BuildCipher(ctx context.Context, name string, purpose domain.Purpose, iv []byte) (*Session, error) {
	if err := domain.ValidateKeyName(name); err != nil {
		return nil, err
	}
	session, err := s.buildCipher(ctx, name, purpose, iv)
	metrics.RecordKeyOperation(metrics.OpBuildCipher, err)
	return session, err
}

func (s *Store) buildCipher(ctx context.Context, name string, purpose domain.Purpose, iv []byte) (*Session, error) {
	switch purpose {
	case domain.PurposeApply:
		if iv != nil {
			return nil, domain.ErrUnexpectedIV
		}
	case domain.PurposeVerify:
		if len(iv) == 0 {
			return nil, domain.ErrIVRequired
		}
		if !validIVLength(iv) {
			return nil, fmt.Errorf("%w: iv length %d", domain.ErrCryptoFailure, len(iv))
		}
	default:
		return nil, fmt.Errorf("unknown purpose %d", purpose)
	}

	handle, err := s.load(ctx, name)
	if errors.Is(err, domain.ErrKeyNotFound) {
		if err := s.ensure(ctx, name); err != nil {
			return nil, err
		}
		handle, err = s.load(ctx, name)
	}
	if err != nil {
		return nil, fmt.Errorf("loading key: %w", err)
	}

	// 無効化された鍵はセンサーを使う前にここで弾く。
	if _, err := handle.Block(ctx); err != nil {
		if errors.Is(err, domain.ErrKeyInvalidated) {
			slog.WarnContext(ctx, "key invalidated",
				"operation", "build_cipher",
				"key_name", name,
			)
		}
		return nil, fmt.Errorf("initializing cipher: %w", err)
	}

	return newSession(handle, purpose, iv)
}

// IsHardwareBacked はプローブ鍵がセキュアハードウェア内にあり、
// かつユーザー認証要件もセキュアハードウェアで強制されているかを返す。
func (s *Store) IsHardwareBacked(ctx context.Context) bool {
	backed, err := s.probe(ctx)
	metrics.RecordKeyOperation(metrics.OpHardwareProbe, err)
	if err != nil {
		slog.ErrorContext(ctx, "hardware probe failed",
			"operation", "is_hardware_backed",
			"error", err,
		)
		return false
	}
	return backed
}

func (s *Store) probe(ctx context.Context) (bool, error) {
	if err := s.ensure(ctx, probeKeyName); err != nil {
		return false, err
	}
	handle, err := s.load(ctx, probeKeyName)
	if err != nil {
		return false, err
	}
	desc, err := s.vault.Describe(ctx, handle)
	if err != nil {
		return false, err
	}
	return desc.InsideSecureHardware && desc.AuthRequirementEnforcedBySecureHardware, nil
}
