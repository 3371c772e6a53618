package repository

import (
	"context"
	"testing"
	"time"

	"grocery-pos-terminal/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestKV(clock *fakeClock) KVStore {
	kv := NewMemoryKV().(*memoryKV)
	kv.now = clock.now
	return kv
}

func TestMemoryKV_ExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	kv := newTestKV(clock)

	require.NoError(t, kv.Set(ctx, "k", []byte("v"), time.Minute))
	got, ok, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	clock.t = clock.t.Add(time.Minute)
	_, ok, err = kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryKV_ZeroTTLKeepsValue(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	kv := newTestKV(clock)

	require.NoError(t, kv.Set(ctx, "k", []byte("v"), 0))
	clock.t = clock.t.Add(24 * time.Hour)
	_, ok, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, kv.Delete(ctx, "k"))
	_, ok, _ = kv.Get(ctx, "k")
	assert.False(t, ok)
}

func TestSnapshotRepo_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewSnapshotRepo[model.CartSnapshot](NewMemoryKV(), TerminalKey("till-1", SlotCartSnapshot), time.Hour)

	empty, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, empty)

	snap := &model.CartSnapshot{
		Lines: []model.CartLine{{
			Barcode:  "8934563138165",
			Name:     "Instant noodles",
			Price:    decimal.NewFromInt(3500),
			Quantity: 2,
			Unit:     "pack",
		}},
		SavedAt: 1_700_000_000_000,
	}
	require.NoError(t, repo.Save(ctx, snap))

	loaded, err := repo.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Len(t, loaded.Lines, 1)
	assert.Equal(t, "8934563138165", loaded.Lines[0].Barcode)
	assert.True(t, loaded.Lines[0].Price.Equal(decimal.NewFromInt(3500)))
	assert.Equal(t, int64(1_700_000_000_000), loaded.SavedAt)

	require.NoError(t, repo.Clear(ctx))
	cleared, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, cleared)
}

func TestSnapshotRepo_CorruptPayload(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	key := TerminalKey("till-1", SlotCartSnapshot)
	require.NoError(t, kv.Set(ctx, key, []byte("{not json"), 0))

	repo := NewSnapshotRepo[model.CartSnapshot](kv, key, time.Hour)
	_, err := repo.Load(ctx)
	assert.ErrorIs(t, err, ErrCorruptSnapshot)
}

func TestTerminalKey(t *testing.T) {
	assert.Equal(t, "pos:till-7:pending_qr", TerminalKey("till-7", SlotPendingQR))
}
