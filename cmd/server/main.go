// Package main はAPIサーバーのエントリポイント。
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"biometric-key-service/config"
	"biometric-key-service/internal/gate"
	"biometric-key-service/internal/handler"
	"biometric-key-service/internal/infra"
	"biometric-key-service/internal/keystore"
	"biometric-key-service/internal/platform"
	"biometric-key-service/internal/repository"
	"biometric-key-service/internal/sensor"
	"biometric-key-service/internal/usecase"
	"biometric-key-service/internal/vault"
	"biometric-key-service/migrations"
)

func main() {
	ctx := context.Background()

	// .envファイルを読み込む（存在しない場合は無視）
	// 既存の環境変数は上書きしない
	_ = godotenv.Load()

	// 設定読み込み
	cfg := config.Load()

	// トレーサー初期化（ロガー設定の前に実行）
	tp, err := infra.InitTracer(ctx, cfg)
	if err != nil {
		slog.Error("failed to init tracer", "error", err)
		os.Exit(1)
	}
	if tp != nil {
		defer func() {
			if err := tp.Shutdown(ctx); err != nil {
				slog.Error("failed to shutdown tracer", "error", err)
			}
		}()
	}

	// トレース情報付きロガーを設定
	infra.SetupLogger(cfg)

	// 指紋センサー
	fingerprint := sensor.NewSimulated(cfg.SensorHardware)
	defer fingerprint.Close()

	// 鍵vault初期化
	keyVault, closeVault, err := newVault(ctx, cfg, fingerprint)
	if err != nil {
		slog.Error("failed to init key vault", "error", err)
		os.Exit(1)
	}
	defer closeVault()

	// DI
	var granted []string
	if cfg.PermissionGranted {
		granted = append(granted, platform.PermissionBiometric)
	}
	permissions := platform.NewPermissions(nil, granted...)
	store := keystore.NewStore(keyVault)
	service := usecase.NewAuthService(store, gate.New(fingerprint), fingerprint, permissions, platform.NewInfo(cfg.PlatformLevel))
	h := handler.NewAuthHandler(service, handler.NewTracker(), cfg.ApplicationIdentity)
	router := handler.NewRouter(h, handler.NewSensorHandler(fingerprint))

	// サーバー起動
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(router, cfg.OtelServiceName),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		<-sigCh

		slog.Info("shutting down server...")
		service.Cancel(ctx)
		shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("starting server", "port", cfg.Port, "persistent", cfg.DatabaseURL != "")
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

// newVault は設定に応じた鍵vaultを生成する。
// DATABASE_URL が空ならインメモリ、設定されていればKMSでラップしてDBに保存する。
func newVault(ctx context.Context, cfg *config.Config, fingerprint *sensor.Simulated) (keystore.KeyVault, func(), error) {
	if cfg.DatabaseURL == "" {
		slog.Warn("DATABASE_URL is not set, keys are kept in memory only")
		return vault.NewMemory(
			vault.WithSecureHardware(cfg.SecureHardware, cfg.SecureHardware),
			vault.WithEnrollmentSource(fingerprint),
		), func() {}, nil
	}

	db, err := infra.NewDB(cfg.DatabaseURL, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("init database: %w", err)
	}

	if cfg.AutoMigrate {
		files, err := migrations.Source(cfg.MigrationsDir)
		if err != nil {
			return nil, nil, err
		}
		migrationService := usecase.NewMigrationService(repository.NewMigrationRepository(db), db, files)
		applied, err := migrationService.ApplyMigrations(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("applying migrations: %w", err)
		}
		slog.Info("migrations checked", "applied", applied)
	}

	kmsClient, err := infra.NewKMSClient(ctx, cfg.KMSKeyName)
	if err != nil {
		return nil, nil, fmt.Errorf("init KMS client: %w", err)
	}
	closeFn := func() {
		if closeErr := kmsClient.Close(); closeErr != nil {
			slog.Error("failed to close KMS client", "error", closeErr)
		}
	}

	return vault.NewSealed(repository.NewVaultKeyRepository(db), kmsClient, fingerprint), closeFn, nil
}
