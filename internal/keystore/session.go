package keystore

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"biometric-key-service/internal/domain"
)

// Session は1回の認証試行に紐づく使い捨ての暗号ハンドル。
// Transform は1度しか呼べない。鍵素材は保持せず、Transform の時点で
// vaultから鍵を引き直す。センサー待ちの間に鍵が無効化されていれば変換は失敗する。
type Session struct {
	id           string
	purpose      domain.Purpose
	handle       KeyHandle
	iv           []byte
	requiresAuth bool

	mu            sync.Mutex
	authenticated bool
	consumed      bool
}

func newSession(handle KeyHandle, purpose domain.Purpose, iv []byte) (*Session, error) {
	if purpose == domain.PurposeApply {
		iv = make([]byte, aes.BlockSize)
		if _, err := rand.Read(iv); err != nil {
			return nil, fmt.Errorf("generating iv: %w", err)
		}
	} else {
		iv = bytes.Clone(iv)
	}
	return &Session{
		id:           uuid.NewString(),
		purpose:      purpose,
		handle:       handle,
		iv:           iv,
		requiresAuth: handle.Spec().RequiresUserAuthentication,
	}, nil
}

// ID はセンサーに渡したハンドルとセンサーから戻ったハンドルを突き合わせるための識別子。
func (s *Session) ID() string { return s.id }

// KeyName は鍵名を返す。
func (s *Session) KeyName() string { return s.handle.Name() }

// Purpose は暗号操作の目的を返す。
func (s *Session) Purpose() domain.Purpose { return s.purpose }

// IV は暗号化時に選ばれた、または復号時に渡されたIVのコピーを返す。
func (s *Session) IV() []byte { return bytes.Clone(s.iv) }

// MarkAuthenticated はプラットフォームが生体認証の成功をこのハンドルに対して確認したことを記録する。
func (s *Session) MarkAuthenticated() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authenticated = true
}

// Transform は暗号化または復号を1度だけ実行する。
// パディング検証に失敗した場合は domain.ErrCryptoFailure を、ハンドル作成後に
// 指紋の登録状態が変わっていた場合は domain.ErrKeyInvalidated を返す。
func (s *Session) Transform(ctx context.Context, input []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.consumed {
		return nil, domain.ErrCipherConsumed
	}
	if s.requiresAuth && !s.authenticated {
		return nil, domain.ErrUserNotAuthenticated
	}
	s.consumed = true

	block, err := s.handle.Block(ctx)
	if err != nil {
		return nil, fmt.Errorf("initializing cipher: %w", err)
	}
	if s.purpose == domain.PurposeApply {
		return s.encrypt(block, input), nil
	}
	return s.decrypt(block, input)
}

func (s *Session) encrypt(block cipher.Block, plaintext []byte) []byte {
	padded := pkcs7Pad(plaintext, block.BlockSize())
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, s.iv).CryptBlocks(out, padded)
	return out
}

func (s *Session) decrypt(block cipher.Block, ciphertext []byte) ([]byte, error) {
	bs := block.BlockSize()
	if len(ciphertext) == 0 || len(ciphertext)%bs != 0 {
		return nil, fmt.Errorf("%w: ciphertext is not a whole number of blocks", domain.ErrCryptoFailure)
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, s.iv).CryptBlocks(out, ciphertext)
	plaintext, err := pkcs7Unpad(out, bs)
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+n)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(n)
	}
	return padded
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, fmt.Errorf("%w: bad padding", domain.ErrCryptoFailure)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("%w: bad padding", domain.ErrCryptoFailure)
		}
	}
	return data[:len(data)-n], nil
}

// validIVLength はAESのブロック長とIV長が一致するか確認する。
func validIVLength(iv []byte) bool {
	return len(iv) == aes.BlockSize
}
