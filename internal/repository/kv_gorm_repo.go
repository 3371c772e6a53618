package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// KVEntry is one row of the terminal key-value table.
type KVEntry struct {
	Key       string     `gorm:"column:kv_key;type:varchar(191);primaryKey"`
	Value     []byte     `gorm:"type:bytea;not null"`
	ExpiresAt *time.Time `gorm:"index"`
	UpdatedAt time.Time
}

func (KVEntry) TableName() string {
	return "terminal_kv"
}

type gormKV struct {
	db *gorm.DB
}

func NewGormKV(db *gorm.DB) KVStore {
	return &gormKV{db}
}

func (r *gormKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var entry KVEntry
	err := r.db.WithContext(ctx).First(&entry, "kv_key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if entry.ExpiresAt != nil && !time.Now().Before(*entry.ExpiresAt) {
		// Lazy expiry: the row is dropped on first read after its deadline
		if err := r.Delete(ctx, key); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	return entry.Value, true, nil
}

func (r *gormKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	entry := KVEntry{Key: key, Value: value, UpdatedAt: time.Now()}
	if ttl > 0 {
		expiresAt := time.Now().Add(ttl)
		entry.ExpiresAt = &expiresAt
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "kv_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "updated_at"}),
		}).
		Create(&entry).Error
}

func (r *gormKV) Delete(ctx context.Context, key string) error {
	return r.db.WithContext(ctx).Delete(&KVEntry{}, "kv_key = ?", key).Error
}

// MigrateKV creates or updates the terminal_kv table.
func MigrateKV(db *gorm.DB) error {
	return db.AutoMigrate(&KVEntry{})
}
