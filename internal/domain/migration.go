package domain

import "time"

// MigrationStatus はスキーマファイルの適用状態。
type MigrationStatus string

const (
	MigrationStatusPending MigrationStatus = "pending"
	MigrationStatusApplied MigrationStatus = "applied"
)

// Migration はvaultのスキーマを変更する1つのSQLファイル。
type Migration struct {
	// Version はファイル名の先頭部分（例: "001"）。適用順はこの文字列順。
	Version string
	// Name はファイル名の残りの部分（例: "create_vault_keys"）。
	Name string
	// FilePath はマイグレーション用ファイルシステム内のパス。
	FilePath string
	Status   MigrationStatus
	// AppliedAt は未適用なら nil。
	AppliedAt *time.Time
}
