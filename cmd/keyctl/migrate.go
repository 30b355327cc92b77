package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"biometric-key-service/config"
	"biometric-key-service/internal/domain"
	"biometric-key-service/internal/infra"
	"biometric-key-service/internal/repository"
	"biometric-key-service/internal/usecase"
	"biometric-key-service/migrations"
)

// migrateCmd はvault_keysテーブルなどのスキーマ管理コマンド。
func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long:  "Manage database migrations for the persistent key vault (DATABASE_URL, MIGRATIONS_DIR)",
	}
	cmd.AddCommand(migrateUpCmd())
	cmd.AddCommand(migrateStatusCmd())
	return cmd
}

func migrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Long:  "Apply all pending migrations to the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			migrationService, err := newMigrationService()
			if err != nil {
				return err
			}

			// マイグレーション実行
			appliedCount, err := migrationService.ApplyMigrations(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			if appliedCount == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No pending migrations.")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", appliedCount)
			}
			return nil
		},
	}
}

func migrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		Long:  "Show the status of all migrations (applied/pending)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			migrationService, err := newMigrationService()
			if err != nil {
				return err
			}

			// マイグレーションステータスを取得
			statuses, err := migrationService.GetMigrationStatus(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			// テーブル形式で出力
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
			fmt.Fprintln(w, "-------\t----\t------\t----------")

			for _, migration := range statuses {
				appliedAt := "-"
				if migration.AppliedAt != nil {
					appliedAt = migration.AppliedAt.Format("2006-01-02 15:04:05")
				}

				status := "pending"
				if migration.Status == domain.MigrationStatusApplied {
					status = "applied"
				}

				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", migration.Version, migration.Name, status, appliedAt)
			}

			if err := w.Flush(); err != nil {
				return fmt.Errorf("failed to flush output: %w", err)
			}
			return nil
		},
	}
}

// newMigrationService は環境変数の設定からMigrationServiceを組み立てる。
func newMigrationService() (*usecase.MigrationService, error) {
	cfg := config.Load()
	// 標準出力は結果表示に使うためログは標準エラーに出す
	infra.SetupLoggerTo(os.Stderr, cfg)

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	// データベース接続
	db, err := infra.NewDB(cfg.DatabaseURL, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	files, err := migrations.Source(cfg.MigrationsDir)
	if err != nil {
		return nil, err
	}

	return usecase.NewMigrationService(repository.NewMigrationRepository(db), db, files), nil
}
