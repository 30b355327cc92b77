// Package infra は外部サービスとの接続を提供する。
package infra

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"biometric-key-service/config"
)

// sqlitePrefix はSQLiteを使うDSNの接頭辞。例: sqlite:/var/lib/bks/vault.db
const sqlitePrefix = "sqlite:"

// NewDB はgormによるデータベース接続を初期化する。
// DSNが sqlite: で始まる場合はSQLite、それ以外はMySQLに接続する。
func NewDB(dsn string, cfg *config.Config) (*gorm.DB, error) {
	dialector, isSQLite := dialectorFor(dsn)
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if cfg != nil && cfg.OtelEnabled {
		if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			return nil, fmt.Errorf("installing tracing plugin: %w", err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// 接続プール設定
	if isSQLite {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	return db, nil
}

func dialectorFor(dsn string) (gorm.Dialector, bool) {
	if path, ok := strings.CutPrefix(dsn, sqlitePrefix); ok {
		return sqlite.Open(path), true
	}
	return mysql.Open(dsn), false
}
