package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"log/slog"

	"biometric-key-service/internal/domain"
	"biometric-key-service/internal/keystore"
)

// KeyRepository はラップ済み鍵レコードの永続化インターフェース。
type KeyRepository interface {
	FindByName(ctx context.Context, name string) (*domain.VaultKey, error)
	Save(ctx context.Context, key *domain.VaultKey) error
}

// KeyWrapper は鍵素材をラップ/アンラップする外部KMSのインターフェース。
type KeyWrapper interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
	// IsHardwareProtected はラップ鍵がHSM内にあるかどうかを返す。
	IsHardwareProtected(ctx context.Context) (bool, error)
}

// Sealed はKMSでラップした鍵素材をデータベースに保存するvault。
type Sealed struct {
	repo       KeyRepository
	wrapper    KeyWrapper
	enrollment EnrollmentSource
}

// NewSealed は新しいSealedを生成する。enrollment は nil でもよい。
func NewSealed(repo KeyRepository, wrapper KeyWrapper, enrollment EnrollmentSource) *Sealed {
	return &Sealed{
		repo:       repo,
		wrapper:    wrapper,
		enrollment: enrollment,
	}
}

// Generate は鍵を生成し、ラップして保存する。
func (s *Sealed) Generate(ctx context.Context, name string, spec domain.KeySpec) error {
	material, err := newKeyMaterial(spec)
	if err != nil {
		return err
	}
	defer clear(material)

	epoch, err := currentEpoch(ctx, s.enrollment)
	if err != nil {
		return err
	}

	wrapped, err := s.wrapper.Encrypt(ctx, material)
	if err != nil {
		return fmt.Errorf("wrapping key: %w", err)
	}

	key := &domain.VaultKey{
		Name:            name,
		Spec:            spec,
		WrappedKey:      wrapped,
		EnrollmentEpoch: epoch,
	}
	if err := s.repo.Save(ctx, key); err != nil {
		return fmt.Errorf("saving key: %w", err)
	}
	slog.DebugContext(ctx, "sealed key stored",
		"key_name", name,
		"generation", key.Generation,
	)
	return nil
}

// Retrieve は鍵レコードを取得する。鍵素材のアンラップは Block まで遅延する。
func (s *Sealed) Retrieve(ctx context.Context, name string) (keystore.KeyHandle, error) {
	key, err := s.repo.FindByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("finding key: %w", err)
	}
	if key == nil {
		return nil, domain.ErrKeyNotFound
	}
	return &sealedHandle{key: key, vault: s}, nil
}

// Describe はラップ鍵の保護レベルから鍵の保護状態を返す。
func (s *Sealed) Describe(ctx context.Context, handle keystore.KeyHandle) (domain.KeyDescription, error) {
	if _, ok := handle.(*sealedHandle); !ok {
		return domain.KeyDescription{}, fmt.Errorf("foreign key handle %T", handle)
	}
	hw, err := s.wrapper.IsHardwareProtected(ctx)
	if err != nil {
		return domain.KeyDescription{}, fmt.Errorf("reading protection level: %w", err)
	}
	return domain.KeyDescription{
		InsideSecureHardware:                    hw,
		AuthRequirementEnforcedBySecureHardware: hw && handle.Spec().RequiresUserAuthentication,
	}, nil
}

type sealedHandle struct {
	key   *domain.VaultKey
	vault *Sealed
}

func (h *sealedHandle) Name() string         { return h.key.Name }
func (h *sealedHandle) Spec() domain.KeySpec { return h.key.Spec }

func (h *sealedHandle) Block(ctx context.Context) (cipher.Block, error) {
	if err := checkEpoch(ctx, h.vault.enrollment, h.key.Spec, h.key.EnrollmentEpoch); err != nil {
		return nil, err
	}
	material, err := h.vault.wrapper.Decrypt(ctx, h.key.WrappedKey)
	if err != nil {
		return nil, fmt.Errorf("unwrapping key: %w", err)
	}
	defer clear(material)
	return aes.NewCipher(material)
}
