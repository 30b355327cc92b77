// Package vault はkeystore.KeyVaultの実装を提供する。
//
// Memory はプロセス内で鍵素材を保持するシミュレーション用のvault、
// Sealed はCloud KMSでラップした鍵素材をデータベースに保存するvault。
package vault

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"sync"

	"biometric-key-service/internal/domain"
	"biometric-key-service/internal/keystore"
)

// EnrollmentSource は生体情報の登録状態を識別するエポックを返す。
// エポックが変わると、ユーザー認証を要求する鍵は無効化される。
type EnrollmentSource interface {
	EnrollmentEpoch(ctx context.Context) (string, error)
}

type memoryEntry struct {
	material   []byte
	spec       domain.KeySpec
	epoch      string
	generation uint
}

// Memory はインメモリのvault。
type Memory struct {
	mu         sync.RWMutex
	keys       map[string]*memoryEntry
	enrollment EnrollmentSource

	insideSecureHardware bool
	authEnforced         bool
}

// MemoryOption はMemoryの設定。
type MemoryOption func(*Memory)

// WithSecureHardware はDescribeが報告する保護状態を設定する。
func WithSecureHardware(inside, authEnforced bool) MemoryOption {
	return func(m *Memory) {
		m.insideSecureHardware = inside
		m.authEnforced = authEnforced
	}
}

// WithEnrollmentSource は鍵の無効化判定に使う登録状態の取得元を設定する。
func WithEnrollmentSource(src EnrollmentSource) MemoryOption {
	return func(m *Memory) {
		m.enrollment = src
	}
}

// NewMemory は新しいMemoryを生成する。既定ではセキュアハードウェア内にあると報告する。
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		keys:                 make(map[string]*memoryEntry),
		insideSecureHardware: true,
		authEnforced:         true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Generate は鍵を生成する。既存の鍵は上書きされる。
func (m *Memory) Generate(ctx context.Context, name string, spec domain.KeySpec) error {
	material, err := newKeyMaterial(spec)
	if err != nil {
		return err
	}
	epoch, err := currentEpoch(ctx, m.enrollment)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var generation uint = 1
	if prev, ok := m.keys[name]; ok {
		generation = prev.generation + 1
	}
	m.keys[name] = &memoryEntry{
		material:   material,
		spec:       spec,
		epoch:      epoch,
		generation: generation,
	}
	return nil
}

// Retrieve は鍵を取得する。
func (m *Memory) Retrieve(ctx context.Context, name string) (keystore.KeyHandle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.keys[name]
	if !ok {
		return nil, domain.ErrKeyNotFound
	}
	return &memoryHandle{
		name:       name,
		spec:       entry.spec,
		material:   bytes.Clone(entry.material),
		epoch:      entry.epoch,
		enrollment: m.enrollment,
	}, nil
}

// Describe は鍵の保護状態を返す。
func (m *Memory) Describe(ctx context.Context, handle keystore.KeyHandle) (domain.KeyDescription, error) {
	if _, ok := handle.(*memoryHandle); !ok {
		return domain.KeyDescription{}, fmt.Errorf("foreign key handle %T", handle)
	}
	return domain.KeyDescription{
		InsideSecureHardware:                    m.insideSecureHardware,
		AuthRequirementEnforcedBySecureHardware: m.authEnforced && handle.Spec().RequiresUserAuthentication,
	}, nil
}

// Generation は鍵の世代を返す。鍵が無い場合は0。
func (m *Memory) Generation(name string) uint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if entry, ok := m.keys[name]; ok {
		return entry.generation
	}
	return 0
}

type memoryHandle struct {
	name       string
	spec       domain.KeySpec
	material   []byte
	epoch      string
	enrollment EnrollmentSource
}

func (h *memoryHandle) Name() string         { return h.name }
func (h *memoryHandle) Spec() domain.KeySpec { return h.spec }

func (h *memoryHandle) Block(ctx context.Context) (cipher.Block, error) {
	if err := checkEpoch(ctx, h.enrollment, h.spec, h.epoch); err != nil {
		return nil, err
	}
	return aes.NewCipher(h.material)
}

func newKeyMaterial(spec domain.KeySpec) ([]byte, error) {
	if spec.Algorithm != domain.AlgorithmAES {
		return nil, fmt.Errorf("unsupported algorithm %q", spec.Algorithm)
	}
	switch spec.KeySize {
	case 128, 192, 256:
	default:
		return nil, fmt.Errorf("unsupported key size %d", spec.KeySize)
	}
	material := make([]byte, spec.KeySize/8)
	if _, err := rand.Read(material); err != nil {
		return nil, fmt.Errorf("generating key material: %w", err)
	}
	return material, nil
}

func currentEpoch(ctx context.Context, src EnrollmentSource) (string, error) {
	if src == nil {
		return "", nil
	}
	epoch, err := src.EnrollmentEpoch(ctx)
	if err != nil {
		return "", fmt.Errorf("reading enrollment epoch: %w", err)
	}
	return epoch, nil
}

// checkEpoch は鍵生成時と現在の登録状態を比較する。
func checkEpoch(ctx context.Context, src EnrollmentSource, spec domain.KeySpec, keyEpoch string) error {
	if src == nil || !spec.RequiresUserAuthentication {
		return nil
	}
	epoch, err := currentEpoch(ctx, src)
	if err != nil {
		return err
	}
	if epoch != keyEpoch {
		return domain.ErrKeyInvalidated
	}
	return nil
}
