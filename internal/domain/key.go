// Package domain はドメインモデルとビジネスルールを定義する。
package domain

import (
	"regexp"
	"strings"
	"time"
)

// Purpose は鍵に対する暗号操作の目的を表す。
type Purpose int

const (
	// PurposeApply は登録時の暗号化を表す。
	PurposeApply Purpose = iota + 1
	// PurposeVerify は照合時の復号を表す。
	PurposeVerify
)

// String は目的の表示名を返す。
func (p Purpose) String() string {
	switch p {
	case PurposeApply:
		return "apply"
	case PurposeVerify:
		return "verify"
	default:
		return "unknown"
	}
}

// 鍵仕様の固定値。
const (
	AlgorithmAES  = "AES"
	BlockModeCBC  = "CBC"
	PaddingPKCS7  = "PKCS7"
	DefaultKeyBit = 256
)

// ProbeKeyPrefix はハードウェア判定用のプローブ鍵に予約された名前空間。
const ProbeKeyPrefix = "__probe__."

var keyNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// KeySpec はvault内で鍵を生成する際のパラメータ。
type KeySpec struct {
	Algorithm                  string
	BlockMode                  string
	Padding                    string
	KeySize                    int
	RequiresUserAuthentication bool
}

// DefaultKeySpec はこのシステムで使用する唯一の鍵仕様を返す。
func DefaultKeySpec() KeySpec {
	return KeySpec{
		Algorithm:                  AlgorithmAES,
		BlockMode:                  BlockModeCBC,
		Padding:                    PaddingPKCS7,
		KeySize:                    DefaultKeyBit,
		RequiresUserAuthentication: true,
	}
}

// KeyDescription はvaultが報告する鍵の保護状態。
type KeyDescription struct {
	InsideSecureHardware                    bool
	AuthRequirementEnforcedBySecureHardware bool
}

// ValidateKeyName はアプリケーションが使用する鍵名を検証する。
func ValidateKeyName(name string) error {
	if name == "" || len(name) > 128 {
		return ErrInvalidKeyName
	}
	if strings.HasPrefix(name, ProbeKeyPrefix) {
		return ErrInvalidKeyName
	}
	if !keyNameRegex.MatchString(name) {
		return ErrInvalidKeyName
	}
	return nil
}

// VaultKey はvaultが永続化する鍵レコード。鍵素材はラップ済みの形でのみ保持する。
type VaultKey struct {
	ID              string
	Name            string
	Spec            KeySpec
	WrappedKey      []byte
	EnrollmentEpoch string
	Generation      uint
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
