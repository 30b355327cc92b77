package keystore

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"biometric-key-service/internal/domain"
)

func newSessions(t *testing.T) (*Store, *Session) {
	t.Helper()
	store := NewStore(newMockVault())
	enc, err := store.BuildCipher(context.Background(), "card-1", domain.PurposeApply, nil)
	if err != nil {
		t.Fatalf("BuildCipher failed: %v", err)
	}
	return store, enc
}

func TestSession_RoundTrip(t *testing.T) {
	payloads := [][]byte{
		[]byte("com.example.app"),
		[]byte("exactly-16-bytes"),
		bytes.Repeat([]byte{0x00}, 33),
		{},
	}

	for _, p := range payloads {
		store, enc := newSessions(t)
		ciphertext := authenticated(t, enc, p)
		if len(ciphertext)%16 != 0 || len(ciphertext) <= len(p) {
			t.Errorf("unexpected ciphertext length %d for payload length %d", len(ciphertext), len(p))
		}

		dec, err := store.BuildCipher(context.Background(), "card-1", domain.PurposeVerify, enc.IV())
		if err != nil {
			t.Fatalf("BuildCipher failed: %v", err)
		}
		if got := authenticated(t, dec, ciphertext); !bytes.Equal(got, p) {
			t.Errorf("want %q, got %q", p, got)
		}
	}
}

func TestSession_FreshIVPerEncryption(t *testing.T) {
	store, enc1 := newSessions(t)
	enc2, err := store.BuildCipher(context.Background(), "card-1", domain.PurposeApply, nil)
	if err != nil {
		t.Fatalf("BuildCipher failed: %v", err)
	}
	if bytes.Equal(enc1.IV(), enc2.IV()) {
		t.Error("want distinct IVs for separate encryptions")
	}
	if len(enc1.IV()) != 16 {
		t.Errorf("want 16 byte IV, got %d", len(enc1.IV()))
	}
}

func TestSession_SingleUse(t *testing.T) {
	_, enc := newSessions(t)
	authenticated(t, enc, []byte("payload"))

	if _, err := enc.Transform(context.Background(), []byte("payload")); !errors.Is(err, domain.ErrCipherConsumed) {
		t.Errorf("want ErrCipherConsumed, got %v", err)
	}
}

func TestSession_RequiresAuthentication(t *testing.T) {
	_, enc := newSessions(t)

	if _, err := enc.Transform(context.Background(), []byte("payload")); !errors.Is(err, domain.ErrUserNotAuthenticated) {
		t.Errorf("want ErrUserNotAuthenticated, got %v", err)
	}
	// 認証前の失敗ではハンドルを消費しない
	authenticated(t, enc, []byte("payload"))
}

func TestSession_KeyInvalidatedAfterBuild(t *testing.T) {
	ctx := context.Background()
	v := newMockVault()
	store := NewStore(v)
	enc, err := store.BuildCipher(ctx, "card-1", domain.PurposeApply, nil)
	if err != nil {
		t.Fatalf("BuildCipher failed: %v", err)
	}
	ciphertext := authenticated(t, enc, []byte("payload"))

	dec, err := store.BuildCipher(ctx, "card-1", domain.PurposeVerify, enc.IV())
	if err != nil {
		t.Fatalf("BuildCipher failed: %v", err)
	}
	// センサー待ちの間に指紋の登録状態が変わった
	v.invalidated["card-1"] = true
	dec.MarkAuthenticated()

	_, err = dec.Transform(ctx, ciphertext)
	if !errors.Is(err, domain.ErrKeyInvalidated) {
		t.Errorf("want ErrKeyInvalidated, got %v", err)
	}
	if errors.Is(err, domain.ErrCryptoFailure) {
		t.Error("want invalidation distinguishable from crypto failure")
	}
}

func TestSession_WrongIVFailsOrDiffers(t *testing.T) {
	store, enc := newSessions(t)
	ciphertext := authenticated(t, enc, []byte("com.example.app"))

	// 1ブロックの平文では最終バイトのパディング 0x01 がIVの最終バイトとXORされる。
	// 0xff で反転すると 0xfe になり、必ずパディング検証で失敗する。
	iv := enc.IV()
	iv[len(iv)-1] ^= 0xff
	dec, _ := store.BuildCipher(context.Background(), "card-1", domain.PurposeVerify, iv)
	dec.MarkAuthenticated()

	if _, err := dec.Transform(context.Background(), ciphertext); !errors.Is(err, domain.ErrCryptoFailure) {
		t.Errorf("want ErrCryptoFailure, got %v", err)
	}
}

func TestSession_RejectsPartialBlocks(t *testing.T) {
	store, enc := newSessions(t)
	ciphertext := authenticated(t, enc, []byte("payload"))

	dec, _ := store.BuildCipher(context.Background(), "card-1", domain.PurposeVerify, enc.IV())
	dec.MarkAuthenticated()
	if _, err := dec.Transform(context.Background(), ciphertext[:len(ciphertext)-1]); !errors.Is(err, domain.ErrCryptoFailure) {
		t.Errorf("want ErrCryptoFailure, got %v", err)
	}
}

func TestPKCS7Unpad(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr bool
	}{
		{"valid", append(bytes.Repeat([]byte{'a'}, 14), 2, 2), false},
		{"zero pad", append(bytes.Repeat([]byte{'a'}, 15), 0), true},
		{"too large", append(bytes.Repeat([]byte{'a'}, 15), 17), true},
		{"inconsistent", append(bytes.Repeat([]byte{'a'}, 13), 1, 3, 3), true},
		{"full block", bytes.Repeat([]byte{16}, 16), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := pkcs7Unpad(tt.data, 16)
			if tt.wantErr && !errors.Is(err, domain.ErrCryptoFailure) {
				t.Errorf("want ErrCryptoFailure, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
