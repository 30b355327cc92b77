// Package repository はデータアクセス層の実装を提供する。
package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"biometric-key-service/internal/domain"
)

// VaultKeyModel はgorm用のモデル定義。
type VaultKeyModel struct {
	ID               string    `gorm:"type:char(36);primaryKey"`
	Name             string    `gorm:"type:varchar(128);not null;uniqueIndex:uk_name"`
	Algorithm        string    `gorm:"type:varchar(16);not null"`
	BlockMode        string    `gorm:"type:varchar(16);not null"`
	Padding          string    `gorm:"type:varchar(16);not null"`
	KeySize          int       `gorm:"not null"`
	UserAuthRequired bool      `gorm:"not null"`
	WrappedKey       []byte    `gorm:"type:blob;not null"`
	EnrollmentEpoch  string    `gorm:"type:varchar(64);not null"`
	Generation       uint      `gorm:"not null"`
	CreatedAt        time.Time `gorm:"type:datetime;not null;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"type:datetime;not null;autoUpdateTime"`
}

// TableName はテーブル名を返す。
func (VaultKeyModel) TableName() string {
	return "vault_keys"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (m *VaultKeyModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

func (m *VaultKeyModel) toDomain() *domain.VaultKey {
	return &domain.VaultKey{
		ID:   m.ID,
		Name: m.Name,
		Spec: domain.KeySpec{
			Algorithm:                  m.Algorithm,
			BlockMode:                  m.BlockMode,
			Padding:                    m.Padding,
			KeySize:                    m.KeySize,
			RequiresUserAuthentication: m.UserAuthRequired,
		},
		WrappedKey:      m.WrappedKey,
		EnrollmentEpoch: m.EnrollmentEpoch,
		Generation:      m.Generation,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

// VaultKeyRepository はラップ済み鍵レコードのデータアクセスを提供する。
type VaultKeyRepository struct {
	db *gorm.DB
}

// NewVaultKeyRepository は新しいVaultKeyRepositoryを生成する。
func NewVaultKeyRepository(db *gorm.DB) *VaultKeyRepository {
	return &VaultKeyRepository{db: db}
}

// FindByName は鍵名でレコードを取得する。存在しない場合は nil を返す。
func (r *VaultKeyRepository) FindByName(ctx context.Context, name string) (*domain.VaultKey, error) {
	var model VaultKeyModel
	err := r.db.WithContext(ctx).
		Where("name = ?", name).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find vault key",
			"operation", "find_by_name",
			"key_name", name,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// Save は鍵レコードを保存する。同名のレコードがあれば上書きし、世代を1つ進める。
func (r *VaultKeyRepository) Save(ctx context.Context, key *domain.VaultKey) error {
	var saved VaultKeyModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing VaultKeyModel
		err := tx.Where("name = ?", key.Name).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			saved = VaultKeyModel{Name: key.Name, Generation: 1}
		case err != nil:
			return err
		default:
			saved = existing
			saved.Generation = existing.Generation + 1
		}

		saved.Algorithm = key.Spec.Algorithm
		saved.BlockMode = key.Spec.BlockMode
		saved.Padding = key.Spec.Padding
		saved.KeySize = key.Spec.KeySize
		saved.UserAuthRequired = key.Spec.RequiresUserAuthentication
		saved.WrappedKey = key.WrappedKey
		saved.EnrollmentEpoch = key.EnrollmentEpoch
		return tx.Save(&saved).Error
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to save vault key",
			"operation", "save",
			"key_name", key.Name,
			"error", err,
		)
		return err
	}

	// gormで設定された値をドメインエンティティに反映
	key.ID = saved.ID
	key.Generation = saved.Generation
	key.CreatedAt = saved.CreatedAt
	key.UpdatedAt = saved.UpdatedAt
	return nil
}
