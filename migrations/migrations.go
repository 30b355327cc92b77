// Package migrations はデータベーススキーマのSQLファイルを埋め込んで提供する。
//
// ファイル名のフォーマットは {version}_{name}.sql。MySQLとSQLiteの両方で
// 実行できるよう、1ファイルにつき1文だけ書く。
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
)

// FS は埋め込まれたマイグレーションファイル。
//
//go:embed *.sql
var FS embed.FS

// Source はマイグレーションファイルの置き場所を返す。dir が空なら埋め込みのファイルを使う。
func Source(dir string) (fs.FS, error) {
	if dir == "" {
		return FS, nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("migrations directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("migrations directory: %s is not a directory", dir)
	}
	return os.DirFS(dir), nil
}
