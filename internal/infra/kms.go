package infra

import (
	"context"
	"errors"
	"fmt"
	"sync"

	kms "cloud.google.com/go/kms/apiv1"
	kmspb "cloud.google.com/go/kms/apiv1/kmspb"
	"github.com/googleapis/gax-go/v2"
)

// kmsAPI は KMSClient が使うCloud KMS APIの部分集合。
type kmsAPI interface {
	Encrypt(ctx context.Context, req *kmspb.EncryptRequest, opts ...gax.CallOption) (*kmspb.EncryptResponse, error)
	Decrypt(ctx context.Context, req *kmspb.DecryptRequest, opts ...gax.CallOption) (*kmspb.DecryptResponse, error)
	GetCryptoKey(ctx context.Context, req *kmspb.GetCryptoKeyRequest, opts ...gax.CallOption) (*kmspb.CryptoKey, error)
	Close() error
}

// KMSClient はvaultの鍵素材をCloud KMSでラップ/アンラップする。
type KMSClient struct {
	client  kmsAPI
	keyName string

	mu        sync.Mutex
	hwChecked bool
	hw        bool
}

// NewKMSClient は keyName の鍵を使うKMSClientを生成する。
func NewKMSClient(ctx context.Context, keyName string) (*KMSClient, error) {
	if keyName == "" {
		return nil, errors.New("KMS_KEY_NAME is required")
	}

	client, err := kms.NewKeyManagementClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating KMS client: %w", err)
	}
	return newKMSClient(client, keyName), nil
}

func newKMSClient(client kmsAPI, keyName string) *KMSClient {
	return &KMSClient{
		client:  client,
		keyName: keyName,
	}
}

// Encrypt は鍵素材をCloud KMSでラップする。
func (c *KMSClient) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	resp, err := c.client.Encrypt(ctx, &kmspb.EncryptRequest{
		Name:      c.keyName,
		Plaintext: plaintext,
	})
	if err != nil {
		return nil, fmt.Errorf("encrypting: %w", err)
	}
	return resp.Ciphertext, nil
}

// Decrypt はラップされた鍵素材をCloud KMSで復元する。
func (c *KMSClient) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	resp, err := c.client.Decrypt(ctx, &kmspb.DecryptRequest{
		Name:       c.keyName,
		Ciphertext: ciphertext,
	})
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	return resp.Plaintext, nil
}

// IsHardwareProtected はラップに使う鍵のプライマリバージョンがHSMで保護されているかを返す。
// 結果は最初の問い合わせが成功した後はキャッシュする。
func (c *KMSClient) IsHardwareProtected(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hwChecked {
		return c.hw, nil
	}

	key, err := c.client.GetCryptoKey(ctx, &kmspb.GetCryptoKeyRequest{Name: c.keyName})
	if err != nil {
		return false, fmt.Errorf("getting crypto key: %w", err)
	}

	level := key.GetVersionTemplate().GetProtectionLevel()
	if primary := key.GetPrimary(); primary != nil {
		level = primary.GetProtectionLevel()
	}
	c.hw = level == kmspb.ProtectionLevel_HSM
	c.hwChecked = true
	return c.hw, nil
}

// Close はKMSクライアントを閉じる。
func (c *KMSClient) Close() error {
	return c.client.Close()
}
