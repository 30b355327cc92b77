// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"os"
	"strconv"
)

// Config はアプリケーション設定を表す。
type Config struct {
	Port               string
	DatabaseURL        string
	KMSKeyName         string
	GoogleCloudProject string
	LogLevel           string
	// MigrationsDir が空なら埋め込みのマイグレーションを使う。
	MigrationsDir string
	// AutoMigrate が true ならサーバー起動時に未適用のマイグレーションを適用する。
	AutoMigrate bool

	OtelEnabled      bool
	OtelEndpoint     string
	OtelInsecure     bool
	OtelServiceName  string
	OtelSamplingRate float64

	// ApplicationIdentity は登録時に暗号化し、照合時に復号結果と比較する既定のペイロード。
	ApplicationIdentity string
	// PlatformLevel はホストプラットフォームが報告するAPIレベル。
	PlatformLevel int
	// SensorHardware はシミュレートされた指紋センサーが存在するかどうか。
	SensorHardware bool
	// PermissionGranted は生体認証パーミッションの初期状態。
	PermissionGranted bool
	// SecureHardware はインメモリvaultが鍵をセキュアハードウェア内にあると報告するかどうか。
	SecureHardware bool
}

// Load は環境変数から設定を読み込む。
func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		KMSKeyName:         os.Getenv("KMS_KEY_NAME"),
		GoogleCloudProject: os.Getenv("GOOGLE_CLOUD_PROJECT"),
		LogLevel:           getEnv("LOG_LEVEL", "INFO"),
		MigrationsDir:      os.Getenv("MIGRATIONS_DIR"),
		AutoMigrate:        getEnvBool("AUTO_MIGRATE", false),

		OtelEnabled:      getEnvBool("OTEL_ENABLED", false),
		OtelEndpoint:     getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OtelInsecure:     getEnvBool("OTEL_INSECURE", false),
		OtelServiceName:  getEnv("OTEL_SERVICE_NAME", "biometric-key-service"),
		OtelSamplingRate: getEnvFloat("OTEL_SAMPLING_RATE", 1.0),

		ApplicationIdentity: getEnv("APPLICATION_IDENTITY", "biometric-key-service"),
		PlatformLevel:       getEnvInt("PLATFORM_LEVEL", 23),
		SensorHardware:      getEnvBool("SENSOR_HARDWARE", true),
		PermissionGranted:   getEnvBool("PERMISSION_GRANTED", true),
		SecureHardware:      getEnvBool("SECURE_HARDWARE", true),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvFloat(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return f
}
