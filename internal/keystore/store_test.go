package keystore

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"sync"
	"testing"

	"biometric-key-service/internal/domain"
)

// mockVault はテスト用のモックvault。
type mockVault struct {
	mu            sync.Mutex
	keys          map[string][]byte
	specs         map[string]domain.KeySpec
	invalidated   map[string]bool
	generateErr   error
	retrieveErrs  []error
	description   domain.KeyDescription
	generateCalls int
	retrieveCalls int
}

func newMockVault() *mockVault {
	return &mockVault{
		keys:        make(map[string][]byte),
		specs:       make(map[string]domain.KeySpec),
		invalidated: make(map[string]bool),
		description: domain.KeyDescription{
			InsideSecureHardware:                    true,
			AuthRequirementEnforcedBySecureHardware: true,
		},
	}
}

func (m *mockVault) Generate(ctx context.Context, name string, spec domain.KeySpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generateCalls++
	if m.generateErr != nil {
		return m.generateErr
	}
	key := make([]byte, spec.KeySize/8)
	_, _ = rand.Read(key)
	m.keys[name] = key
	m.specs[name] = spec
	delete(m.invalidated, name)
	return nil
}

func (m *mockVault) Retrieve(ctx context.Context, name string) (KeyHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retrieveCalls++
	if len(m.retrieveErrs) > 0 {
		err := m.retrieveErrs[0]
		m.retrieveErrs = m.retrieveErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	key, ok := m.keys[name]
	if !ok {
		return nil, domain.ErrKeyNotFound
	}
	return &mockHandle{name: name, spec: m.specs[name], key: key, vault: m}, nil
}

func (m *mockVault) Describe(ctx context.Context, handle KeyHandle) (domain.KeyDescription, error) {
	return m.description, nil
}

type mockHandle struct {
	name  string
	spec  domain.KeySpec
	key   []byte
	vault *mockVault
}

func (h *mockHandle) Name() string         { return h.name }
func (h *mockHandle) Spec() domain.KeySpec { return h.spec }

func (h *mockHandle) Block(ctx context.Context) (cipher.Block, error) {
	h.vault.mu.Lock()
	invalidated := h.vault.invalidated[h.name]
	h.vault.mu.Unlock()
	if invalidated {
		return nil, domain.ErrKeyInvalidated
	}
	return aes.NewCipher(h.key)
}

// authenticated は生体認証済みとしてTransformを実行する。
func authenticated(t *testing.T, s *Session, input []byte) []byte {
	t.Helper()
	s.MarkAuthenticated()
	out, err := s.Transform(context.Background(), input)
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	return out
}

func TestStore_EnsureKey_Idempotent(t *testing.T) {
	ctx := context.Background()
	v := newMockVault()
	store := NewStore(v)

	if err := store.EnsureKey(ctx, "card-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first := v.keys["card-1"]
	if err := store.EnsureKey(ctx, "card-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if v.generateCalls != 1 {
		t.Errorf("want 1 generate call, got %d", v.generateCalls)
	}
	if !bytes.Equal(first, v.keys["card-1"]) {
		t.Error("want key unchanged by second EnsureKey")
	}
}

func TestStore_EnsureKey_DoesNotRotateInFlightCipher(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newMockVault())

	enc, err := store.BuildCipher(ctx, "card-1", domain.PurposeApply, nil)
	if err != nil {
		t.Fatalf("BuildCipher failed: %v", err)
	}
	if err := store.EnsureKey(ctx, "card-1"); err != nil {
		t.Fatalf("EnsureKey failed: %v", err)
	}
	ciphertext := authenticated(t, enc, []byte("payload"))

	dec, err := store.BuildCipher(ctx, "card-1", domain.PurposeVerify, enc.IV())
	if err != nil {
		t.Fatalf("BuildCipher failed: %v", err)
	}
	if got := authenticated(t, dec, ciphertext); string(got) != "payload" {
		t.Errorf("want payload, got %q", got)
	}
}

func TestStore_EnsureKey_GenerationFailed(t *testing.T) {
	v := newMockVault()
	v.generateErr = errors.New("hardware refused")
	store := NewStore(v)

	err := store.EnsureKey(context.Background(), "card-1")
	if !errors.Is(err, domain.ErrKeyGenerationFailed) {
		t.Errorf("want ErrKeyGenerationFailed, got %v", err)
	}
	if v.generateCalls != 1 {
		t.Errorf("want generation not retried, got %d calls", v.generateCalls)
	}
}

func TestStore_EnsureKey_InvalidName(t *testing.T) {
	store := NewStore(newMockVault())

	err := store.EnsureKey(context.Background(), domain.ProbeKeyPrefix+"x")
	if !errors.Is(err, domain.ErrInvalidKeyName) {
		t.Errorf("want ErrInvalidKeyName, got %v", err)
	}
}

func TestStore_BuildCipher_InvalidName(t *testing.T) {
	tests := []struct {
		name    string
		keyName string
	}{
		{"empty", ""},
		{"probe namespace", probeKeyName},
		{"bad characters", "card 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newMockVault()
			store := NewStore(v)

			_, err := store.BuildCipher(context.Background(), tt.keyName, domain.PurposeApply, nil)
			if !errors.Is(err, domain.ErrInvalidKeyName) {
				t.Errorf("want ErrInvalidKeyName, got %v", err)
			}
			if v.generateCalls != 0 {
				t.Errorf("want no key generated, got %d generate calls", v.generateCalls)
			}
		})
	}
}

func TestStore_BuildCipher_CreatesMissingKey(t *testing.T) {
	v := newMockVault()
	store := NewStore(v)

	if _, err := store.BuildCipher(context.Background(), "card-1", domain.PurposeApply, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := v.keys["card-1"]; !ok {
		t.Error("want key generated on first use")
	}
}

func TestStore_BuildCipher_IVRules(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newMockVault())

	if _, err := store.BuildCipher(ctx, "card-1", domain.PurposeApply, make([]byte, 16)); !errors.Is(err, domain.ErrUnexpectedIV) {
		t.Errorf("want ErrUnexpectedIV, got %v", err)
	}
	if _, err := store.BuildCipher(ctx, "card-1", domain.PurposeVerify, nil); !errors.Is(err, domain.ErrIVRequired) {
		t.Errorf("want ErrIVRequired, got %v", err)
	}
	if _, err := store.BuildCipher(ctx, "card-1", domain.PurposeVerify, make([]byte, 7)); !errors.Is(err, domain.ErrCryptoFailure) {
		t.Errorf("want ErrCryptoFailure for short iv, got %v", err)
	}
}

func TestStore_BuildCipher_Invalidated(t *testing.T) {
	ctx := context.Background()
	v := newMockVault()
	store := NewStore(v)
	_ = store.EnsureKey(ctx, "card-1")
	v.invalidated["card-1"] = true

	_, err := store.BuildCipher(ctx, "card-1", domain.PurposeVerify, make([]byte, 16))
	if !errors.Is(err, domain.ErrKeyInvalidated) {
		t.Errorf("want ErrKeyInvalidated, got %v", err)
	}
	if errors.Is(err, domain.ErrCryptoFailure) {
		t.Error("want invalidation distinguishable from crypto failure")
	}
}

func TestStore_RegenerateKey_ClearsInvalidation(t *testing.T) {
	ctx := context.Background()
	v := newMockVault()
	store := NewStore(v)
	_ = store.EnsureKey(ctx, "card-1")
	v.invalidated["card-1"] = true

	if err := store.RegenerateKey(ctx, "card-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.BuildCipher(ctx, "card-1", domain.PurposeApply, nil); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestStore_BuildCipher_RetriesTransientLoadOnce(t *testing.T) {
	ctx := context.Background()
	v := newMockVault()
	store := NewStore(v)
	_ = store.EnsureKey(ctx, "card-1")

	v.retrieveErrs = []error{errors.New("keystore busy")}
	v.retrieveCalls = 0
	if _, err := store.BuildCipher(ctx, "card-1", domain.PurposeApply, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.retrieveCalls != 2 {
		t.Errorf("want 2 retrieve calls, got %d", v.retrieveCalls)
	}

	v.retrieveErrs = []error{errors.New("keystore busy"), errors.New("keystore busy")}
	if _, err := store.BuildCipher(ctx, "card-1", domain.PurposeApply, nil); err == nil {
		t.Error("want error after second transient failure")
	}
}

func TestStore_IsHardwareBacked(t *testing.T) {
	tests := []struct {
		name string
		desc domain.KeyDescription
		want bool
	}{
		{"both enforced", domain.KeyDescription{InsideSecureHardware: true, AuthRequirementEnforcedBySecureHardware: true}, true},
		{"auth enforced by os only", domain.KeyDescription{InsideSecureHardware: true}, false},
		{"software key", domain.KeyDescription{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newMockVault()
			v.description = tt.desc
			store := NewStore(v)

			if got := store.IsHardwareBacked(context.Background()); got != tt.want {
				t.Errorf("want %v, got %v", tt.want, got)
			}
			if _, ok := v.keys[probeKeyName]; !ok {
				t.Error("want probe key in its own namespace")
			}
		})
	}
}

func TestStore_IsHardwareBacked_GenerationFailure(t *testing.T) {
	v := newMockVault()
	v.generateErr = errors.New("no keystore")
	store := NewStore(v)

	if store.IsHardwareBacked(context.Background()) {
		t.Error("want false when probe key cannot be created")
	}
}
