package infra

import (
	"context"
	"errors"
	"testing"

	kmspb "cloud.google.com/go/kms/apiv1/kmspb"
	"github.com/googleapis/gax-go/v2"
)

// mockKMS はテスト用のモックKMS。
type mockKMS struct {
	key        *kmspb.CryptoKey
	getErr     error
	getCalls   int
	encryptReq *kmspb.EncryptRequest
}

func (m *mockKMS) Encrypt(ctx context.Context, req *kmspb.EncryptRequest, opts ...gax.CallOption) (*kmspb.EncryptResponse, error) {
	m.encryptReq = req
	return &kmspb.EncryptResponse{Ciphertext: append([]byte("wrapped:"), req.Plaintext...)}, nil
}

func (m *mockKMS) Decrypt(ctx context.Context, req *kmspb.DecryptRequest, opts ...gax.CallOption) (*kmspb.DecryptResponse, error) {
	return &kmspb.DecryptResponse{Plaintext: req.Ciphertext[len("wrapped:"):]}, nil
}

func (m *mockKMS) GetCryptoKey(ctx context.Context, req *kmspb.GetCryptoKeyRequest, opts ...gax.CallOption) (*kmspb.CryptoKey, error) {
	m.getCalls++
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.key, nil
}

func (m *mockKMS) Close() error { return nil }

const testKeyName = "projects/p/locations/global/keyRings/r/cryptoKeys/vault"

func TestKMSClient_EncryptDecrypt(t *testing.T) {
	ctx := context.Background()
	m := &mockKMS{}
	c := newKMSClient(m, testKeyName)

	wrapped, err := c.Encrypt(ctx, []byte("material"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if m.encryptReq.Name != testKeyName {
		t.Errorf("want key name %s, got %s", testKeyName, m.encryptReq.Name)
	}
	plain, err := c.Decrypt(ctx, wrapped)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if string(plain) != "material" {
		t.Errorf("want material, got %q", plain)
	}
}

func TestKMSClient_IsHardwareProtected(t *testing.T) {
	tests := []struct {
		name string
		key  *kmspb.CryptoKey
		want bool
	}{
		{"hsm primary", &kmspb.CryptoKey{Primary: &kmspb.CryptoKeyVersion{ProtectionLevel: kmspb.ProtectionLevel_HSM}}, true},
		{"software primary", &kmspb.CryptoKey{Primary: &kmspb.CryptoKeyVersion{ProtectionLevel: kmspb.ProtectionLevel_SOFTWARE}}, false},
		{"template only", &kmspb.CryptoKey{VersionTemplate: &kmspb.CryptoKeyVersionTemplate{ProtectionLevel: kmspb.ProtectionLevel_HSM}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockKMS{key: tt.key}
			c := newKMSClient(m, testKeyName)

			for i := 0; i < 2; i++ {
				got, err := c.IsHardwareProtected(context.Background())
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if got != tt.want {
					t.Errorf("want %v, got %v", tt.want, got)
				}
			}
			if m.getCalls != 1 {
				t.Errorf("want protection level cached, got %d calls", m.getCalls)
			}
		})
	}
}

func TestKMSClient_IsHardwareProtected_Error(t *testing.T) {
	m := &mockKMS{getErr: errors.New("permission denied")}
	c := newKMSClient(m, testKeyName)

	if _, err := c.IsHardwareProtected(context.Background()); err == nil {
		t.Error("want error")
	}
	m.getErr = nil
	m.key = &kmspb.CryptoKey{Primary: &kmspb.CryptoKeyVersion{ProtectionLevel: kmspb.ProtectionLevel_HSM}}
	if got, err := c.IsHardwareProtected(context.Background()); err != nil || !got {
		t.Errorf("want retry after failure to succeed, got %v %v", got, err)
	}
}

func TestNewKMSClient_RequiresKeyName(t *testing.T) {
	if _, err := NewKMSClient(context.Background(), ""); err == nil {
		t.Error("want error for empty key name")
	}
}
