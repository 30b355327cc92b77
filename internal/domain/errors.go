package domain

import "errors"

var (
	// ErrUnsupportedPlatform はプラットフォームが生体認証付き鍵をサポートしない場合のエラー。
	ErrUnsupportedPlatform = errors.New("biometric key protection is not supported on this platform")

	// ErrBiometricUnavailable はセンサーはあるが指紋が1件も登録されていない場合のエラー。
	ErrBiometricUnavailable = errors.New("no biometric templates enrolled")

	// ErrKeyGenerationFailed はvaultが鍵生成を拒否した場合のエラー。
	ErrKeyGenerationFailed = errors.New("key generation failed")

	// ErrKeyInvalidated は指紋の登録状態が変わり鍵が永久に使えなくなった場合のエラー。
	ErrKeyInvalidated = errors.New("key invalidated by biometric enrollment change")

	// ErrKeyNotFound は指定された名前の鍵が存在しない場合のエラー。
	ErrKeyNotFound = errors.New("key not found")

	// ErrInvalidKeyName は鍵名の形式が不正な場合のエラー。
	ErrInvalidKeyName = errors.New("invalid key name")

	// ErrCryptoFailure はパディング検証などの暗号処理が失敗した場合のエラー。
	ErrCryptoFailure = errors.New("cryptographic check failed")

	// ErrIVRequired は復号用の暗号ハンドルにIVが渡されなかった場合のエラー。
	ErrIVRequired = errors.New("iv is required for decryption")

	// ErrUnexpectedIV は暗号化用の暗号ハンドルにIVが渡された場合のエラー。
	ErrUnexpectedIV = errors.New("iv must not be supplied for encryption")

	// ErrCipherConsumed は使用済みの暗号ハンドルを再利用しようとした場合のエラー。
	ErrCipherConsumed = errors.New("cipher handle already consumed")

	// ErrUserNotAuthenticated は生体認証を経ずに暗号ハンドルを使おうとした場合のエラー。
	ErrUserNotAuthenticated = errors.New("user authentication required")

	// ErrBiometricMismatch は1回の指紋読み取りが一致しなかった場合のエラー。
	ErrBiometricMismatch = errors.New("biometric sample did not match")

	// ErrBiometricLockout は試行回数超過でロックアウトされた場合のエラー。
	ErrBiometricLockout = errors.New("too many failed biometric attempts")

	// ErrCancelled は認証要求がキャンセルされた場合のエラー。
	ErrCancelled = errors.New("authentication cancelled")

	// ErrPermissionDenied は生体認証パーミッションがない場合のエラー。
	ErrPermissionDenied = errors.New("biometric permission denied")

	// ErrAuthenticationInProgress は別の認証要求が進行中の場合のエラー。
	ErrAuthenticationInProgress = errors.New("another authentication is in progress")

	// ErrRequestNotFound は指定された認証要求が存在しない場合のエラー。
	ErrRequestNotFound = errors.New("authentication request not found")

	// ErrMigrationFailed はマイグレーション実行時のエラー。
	ErrMigrationFailed = errors.New("migration failed")

	// ErrInvalidMigrationFile はマイグレーションファイルのフォーマットが不正な場合のエラー。
	ErrInvalidMigrationFile = errors.New("invalid migration file")
)
