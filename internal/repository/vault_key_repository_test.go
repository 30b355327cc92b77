package repository

import (
	"bytes"
	"context"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"biometric-key-service/internal/domain"
	"biometric-key-service/migrations"
)

// setupTestDB はテスト用のインメモリSQLiteデータベースを作成し、vault_keysテーブルを用意する。
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	ddl, err := migrations.FS.ReadFile("001_create_vault_keys.sql")
	if err != nil {
		t.Fatalf("failed to read migration: %v", err)
	}
	if err := db.Exec(string(ddl)).Error; err != nil {
		t.Fatalf("failed to create vault_keys table: %v", err)
	}
	return db
}

func newVaultKey(name string, wrapped []byte, epoch string) *domain.VaultKey {
	return &domain.VaultKey{
		Name:            name,
		Spec:            domain.DefaultKeySpec(),
		WrappedKey:      wrapped,
		EnrollmentEpoch: epoch,
	}
}

func TestVaultKeyRepository_SaveAndFind(t *testing.T) {
	ctx := context.Background()
	repo := NewVaultKeyRepository(setupTestDB(t))

	key := newVaultKey("card-1", []byte("wrapped-1"), "epoch-1")
	if err := repo.Save(ctx, key); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if key.ID == "" {
		t.Error("want ID generated")
	}
	if key.Generation != 1 {
		t.Errorf("want generation 1, got %d", key.Generation)
	}
	if key.CreatedAt.IsZero() || key.UpdatedAt.IsZero() {
		t.Error("want timestamps set")
	}

	found, err := repo.FindByName(ctx, "card-1")
	if err != nil {
		t.Fatalf("FindByName failed: %v", err)
	}
	if found == nil {
		t.Fatal("want key, got nil")
	}
	if found.Spec != domain.DefaultKeySpec() {
		t.Errorf("want default spec, got %+v", found.Spec)
	}
	if !bytes.Equal(found.WrappedKey, []byte("wrapped-1")) {
		t.Errorf("want wrapped-1, got %q", found.WrappedKey)
	}
	if found.EnrollmentEpoch != "epoch-1" {
		t.Errorf("want epoch-1, got %s", found.EnrollmentEpoch)
	}
}

func TestVaultKeyRepository_FindByName_NotFound(t *testing.T) {
	repo := NewVaultKeyRepository(setupTestDB(t))

	found, err := repo.FindByName(context.Background(), "missing")
	if err != nil {
		t.Fatalf("FindByName failed: %v", err)
	}
	if found != nil {
		t.Errorf("want nil, got %+v", found)
	}
}

func TestVaultKeyRepository_Save_OverwritesAndBumpsGeneration(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewVaultKeyRepository(db)

	first := newVaultKey("card-1", []byte("wrapped-1"), "epoch-1")
	if err := repo.Save(ctx, first); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	second := newVaultKey("card-1", []byte("wrapped-2"), "epoch-2")
	if err := repo.Save(ctx, second); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("want same record id, got %s and %s", first.ID, second.ID)
	}
	if second.Generation != 2 {
		t.Errorf("want generation 2, got %d", second.Generation)
	}

	var count int64
	if err := db.Model(&VaultKeyModel{}).Where("name = ?", "card-1").Count(&count).Error; err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if count != 1 {
		t.Errorf("want 1 record, got %d", count)
	}

	found, _ := repo.FindByName(ctx, "card-1")
	if !bytes.Equal(found.WrappedKey, []byte("wrapped-2")) || found.EnrollmentEpoch != "epoch-2" {
		t.Errorf("want overwritten record, got %q %s", found.WrappedKey, found.EnrollmentEpoch)
	}
}

func TestVaultKeyRepository_SeparateNames(t *testing.T) {
	ctx := context.Background()
	repo := NewVaultKeyRepository(setupTestDB(t))

	for _, name := range []string{"card-1", "card-2"} {
		if err := repo.Save(ctx, newVaultKey(name, []byte(name), "epoch")); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}
	for _, name := range []string{"card-1", "card-2"} {
		found, err := repo.FindByName(ctx, name)
		if err != nil || found == nil {
			t.Fatalf("FindByName(%s) failed: %v", name, err)
		}
		if found.Generation != 1 {
			t.Errorf("%s: want generation 1, got %d", name, found.Generation)
		}
	}
}
