package usecase

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"gorm.io/gorm"

	"biometric-key-service/internal/domain"
)

// MigrationRepository はマイグレーション履歴を管理するリポジトリのインターフェース。
type MigrationRepository interface {
	EnsureTable(ctx context.Context) error
	FindAllApplied(ctx context.Context) ([]*domain.Migration, error)
	RecordMigration(ctx context.Context, tx *gorm.DB, version string) error
	IsMigrationApplied(ctx context.Context, version string) (bool, error)
}

// MigrationService はvault_keysなどのスキーマを適用する。
type MigrationService struct {
	repo  MigrationRepository
	db    *gorm.DB
	files fs.FS
}

// NewMigrationService は新しいMigrationServiceを生成する。
// files には {version}_{name}.sql 形式のファイルが直下に置かれている必要がある。
func NewMigrationService(repo MigrationRepository, db *gorm.DB, files fs.FS) *MigrationService {
	return &MigrationService{
		repo:  repo,
		db:    db,
		files: files,
	}
}

// scanMigrationFiles は.sqlファイルをバージョン順に列挙する。
func (s *MigrationService) scanMigrationFiles() ([]*domain.Migration, error) {
	entries, err := fs.ReadDir(s.files, ".")
	if err != nil {
		return nil, fmt.Errorf("reading migrations: %w", err)
	}

	var migrations []*domain.Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, name, err := parseMigrationFileName(entry.Name())
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, &domain.Migration{
			Version:  version,
			Name:     name,
			FilePath: entry.Name(),
			Status:   domain.MigrationStatusPending,
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// parseMigrationFileName はファイル名からバージョンと名前を抽出する。
// ファイル名のフォーマット: {version}_{name}.sql (例: 001_create_vault_keys.sql)
func parseMigrationFileName(filename string) (version, name string, err error) {
	parts := strings.SplitN(strings.TrimSuffix(filename, ".sql"), "_", 2)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %s (expected format: {version}_{name}.sql)", domain.ErrInvalidMigrationFile, filename)
	}
	return parts[0], parts[1], nil
}

// ApplyMigrations は未適用マイグレーションを番号順に実行し、適用した数を返す。
func (s *MigrationService) ApplyMigrations(ctx context.Context) (int, error) {
	if err := s.repo.EnsureTable(ctx); err != nil {
		return 0, fmt.Errorf("preparing schema_migrations: %w", err)
	}

	all, err := s.scanMigrationFiles()
	if err != nil {
		slog.ErrorContext(ctx, "failed to scan migration files",
			"operation", "apply_migrations",
			"error", err,
		)
		return 0, err
	}

	applied := 0
	for _, migration := range all {
		done, err := s.repo.IsMigrationApplied(ctx, migration.Version)
		if err != nil {
			return applied, fmt.Errorf("checking migration status: %w", err)
		}
		if done {
			continue
		}
		if err := s.applyMigration(ctx, migration); err != nil {
			slog.ErrorContext(ctx, "failed to apply migration",
				"operation", "apply_migrations",
				"version", migration.Version,
				"error", err,
			)
			return applied, fmt.Errorf("%w: version %s: %v", domain.ErrMigrationFailed, migration.Version, err)
		}
		slog.InfoContext(ctx, "migration applied", "version", migration.Version, "name", migration.Name)
		applied++
	}
	return applied, nil
}

// applyMigration は単一のマイグレーションをトランザクション内で実行する。
func (s *MigrationService) applyMigration(ctx context.Context, migration *domain.Migration) error {
	sqlBytes, err := fs.ReadFile(s.files, migration.FilePath)
	if err != nil {
		return fmt.Errorf("reading migration file: %w", err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(string(sqlBytes)).Error; err != nil {
			return fmt.Errorf("executing migration SQL: %w", err)
		}
		return s.repo.RecordMigration(ctx, tx, migration.Version)
	})
}

// GetMigrationStatus は各マイグレーションの適用状況を返す。
func (s *MigrationService) GetMigrationStatus(ctx context.Context) ([]*domain.Migration, error) {
	if err := s.repo.EnsureTable(ctx); err != nil {
		return nil, fmt.Errorf("preparing schema_migrations: %w", err)
	}

	all, err := s.scanMigrationFiles()
	if err != nil {
		return nil, err
	}

	applied, err := s.repo.FindAllApplied(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to fetch applied migrations",
			"operation", "get_migration_status",
			"error", err,
		)
		return nil, fmt.Errorf("fetching applied migrations: %w", err)
	}

	appliedMap := make(map[string]*domain.Migration, len(applied))
	for _, m := range applied {
		appliedMap[m.Version] = m
	}
	for _, m := range all {
		if a, ok := appliedMap[m.Version]; ok {
			m.Status = domain.MigrationStatusApplied
			m.AppliedAt = a.AppliedAt
		}
	}
	return all, nil
}
