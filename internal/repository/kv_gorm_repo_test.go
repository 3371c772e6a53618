package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"grocery-pos-terminal/internal/model"
	"grocery-pos-terminal/pkg/database"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openFileKV(t *testing.T, path string) (KVStore, *gorm.DB) {
	t.Helper()
	db, err := database.OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, MigrateKV(db))
	return NewGormKV(db), db
}

func closeDB(t *testing.T, db *gorm.DB) {
	t.Helper()
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
}

func TestGormKV_UpsertAndExpiry(t *testing.T) {
	ctx := context.Background()
	kv, db := openFileKV(t, filepath.Join(t.TempDir(), "kv.db"))
	defer closeDB(t, db)

	require.NoError(t, kv.Set(ctx, "k", []byte("one"), 0))
	require.NoError(t, kv.Set(ctx, "k", []byte("two"), 0))
	got, ok, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("two"), got)

	require.NoError(t, kv.Set(ctx, "short", []byte("x"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	_, ok, err = kv.Get(ctx, "short")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Delete(ctx, "k"))
	_, ok, err = kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGormKV_SnapshotSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "terminal.db")
	key := TerminalKey("till-1", SlotCartSnapshot)
	snap := &model.CartSnapshot{
		Lines: []model.CartLine{model.NewLineFromProduct(model.Product{
			ID: 1, Name: "Rice 5kg", Barcode: "100", Price: decimal.NewFromInt(120000), Unit: "bag", Stock: 3,
		})},
		SavedAt: 1_700_000_000_000,
	}

	kv, db := openFileKV(t, path)
	require.NoError(t, NewSnapshotRepo[model.CartSnapshot](kv, key, time.Hour).Save(ctx, snap))
	closeDB(t, db)

	kv, db = openFileKV(t, path)
	defer closeDB(t, db)
	loaded, err := NewSnapshotRepo[model.CartSnapshot](kv, key, time.Hour).Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, snap.SavedAt, loaded.SavedAt)
	require.Len(t, loaded.Lines, 1)
	assert.Equal(t, snap.Lines[0].ID, loaded.Lines[0].ID)
	assert.True(t, loaded.Lines[0].Price.Equal(decimal.NewFromInt(120000)))
}
