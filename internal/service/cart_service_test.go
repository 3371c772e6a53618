package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"grocery-pos-terminal/internal/model"
	"grocery-pos-terminal/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCart_MutationsBeforeRestoreFail(t *testing.T) {
	kv := repository.NewMemoryKV()
	cart := NewCartService(NewCatalogService(&stubSource{}),
		repository.NewSnapshotRepo[model.CartSnapshot](kv, "snap", time.Hour),
		repository.NewSnapshotRepo[model.PostSaleBackup](kv, "backup", 0),
		nil, CartOptions{})
	defer cart.Close()

	_, err := cart.AddProduct(context.Background(), noodles)
	assert.ErrorIs(t, err, ErrCartNotReady)

	require.NoError(t, cart.Restore(context.Background()))
	_, err = cart.AddProduct(context.Background(), noodles)
	assert.NoError(t, err)
}

func TestCart_AddProductMergesByBarcode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.cart.AddProduct(ctx, noodles)
	require.NoError(t, err)
	second, err := f.cart.AddProduct(ctx, noodles)
	require.NoError(t, err)

	lines := f.cart.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, lines[0].Quantity)
	assert.True(t, f.cart.Total().Equal(decimal.NewFromInt(7000)))
	assert.Equal(t, 2, f.notifier.count(model.LevelSuccess))
}

func TestCart_StockInvariant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < milk.Stock; i++ {
		_, err := f.cart.AddProduct(ctx, milk)
		require.NoError(t, err)
	}
	_, err := f.cart.AddProduct(ctx, milk)
	assert.ErrorIs(t, err, ErrNoStock)

	line := f.cart.Lines()[0]
	assert.Equal(t, milk.Stock, line.Quantity)

	_, err = f.cart.IncrementLine(ctx, line.ID)
	var stockErr *StockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, 0, stockErr.Remaining)
	assert.Equal(t, milk.Stock, f.cart.Lines()[0].Quantity)

	out := milk
	out.Barcode, out.Stock = "000", 0
	_, err = f.cart.AddProduct(ctx, out)
	assert.ErrorIs(t, err, ErrNoStock)
	assert.Len(t, f.cart.Lines(), 1)
}

func TestCart_AddBarcodeUnknown(t *testing.T) {
	f := newFixture(t)

	_, err := f.cart.AddBarcode(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrProductNotFound)
	assert.Empty(t, f.cart.Lines())

	line, err := f.cart.AddBarcode(context.Background(), " "+milk.Barcode+" ")
	require.NoError(t, err)
	assert.Equal(t, milk.Name, line.Name)
}

func TestCart_ManualLinesNeverMerge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft := model.ManualLineDraft{Name: "Ice bag", Price: decimal.NewFromInt(5000), Unit: "bag"}

	a, err := f.cart.AddManualLine(ctx, draft)
	require.NoError(t, err)
	b, err := f.cart.AddManualLine(ctx, draft)
	require.NoError(t, err)

	assert.Len(t, f.cart.Lines(), 2)
	assert.NotEqual(t, a.Barcode, b.Barcode)
	assert.True(t, strings.HasPrefix(a.Barcode, model.ManualBarcodePrefix))
	assert.True(t, a.IsManual)
	assert.Equal(t, 1, a.Quantity)

	// manual lines have no stock ceiling
	for i := 0; i < 20; i++ {
		_, err := f.cart.IncrementLine(ctx, a.ID)
		require.NoError(t, err)
	}
	_, err = f.cart.SetLineQuantity(ctx, b.ID, "500")
	require.NoError(t, err)

	_, err = f.cart.AddManualLine(ctx, model.ManualLineDraft{Name: "  ", Price: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.cart.AddManualLine(ctx, model.ManualLineDraft{Name: "Bag", Price: decimal.NewFromInt(-1)})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCart_SetQuantityClampsToStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var line model.CartLine
	for i := 0; i < 3; i++ {
		var err error
		line, err = f.cart.AddProduct(ctx, noodles)
		require.NoError(t, err)
	}

	updated, err := f.cart.SetLineQuantity(ctx, line.ID, "10")
	require.NoError(t, err)
	assert.Equal(t, 5, updated.Quantity)
	assert.Equal(t, model.LevelWarning, f.notifier.last().Level)
	assert.Contains(t, f.notifier.last().Message, "adjusted to 5")

	// at the ceiling any further increase is rejected
	_, err = f.cart.SetLineQuantity(ctx, line.ID, "6")
	assert.ErrorIs(t, err, ErrNoStock)

	// decreases are always allowed
	updated, err = f.cart.SetLineQuantity(ctx, line.ID, "2")
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Quantity)
}

func TestCart_SetQuantityRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	line, err := f.cart.AddProduct(context.Background(), noodles)
	require.NoError(t, err)

	for _, raw := range []string{"", "abc", "0", "-2", "1.5"} {
		_, err := f.cart.SetLineQuantity(context.Background(), line.ID, raw)
		assert.ErrorIs(t, err, ErrInvalidQuantity, raw)
	}
	assert.Equal(t, 1, f.cart.Lines()[0].Quantity)
}

func TestCart_DecrementRemovesAtOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	line, _ := f.cart.AddProduct(ctx, noodles)
	_, _ = f.cart.AddProduct(ctx, noodles)

	left, err := f.cart.DecrementLine(ctx, line.ID)
	require.NoError(t, err)
	require.NotNil(t, left)
	assert.Equal(t, 1, left.Quantity)

	left, err = f.cart.DecrementLine(ctx, line.ID)
	require.NoError(t, err)
	assert.Nil(t, left)
	assert.Empty(t, f.cart.Lines())

	_, err = f.cart.DecrementLine(ctx, line.ID)
	assert.ErrorIs(t, err, ErrLineNotFound)
}

func TestCart_ClearRequiresConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.cart.AddProduct(ctx, noodles)

	assert.ErrorIs(t, f.cart.Clear(ctx, Always(false)), ErrClearNotConfirmed)
	assert.ErrorIs(t, f.cart.Clear(ctx, nil), ErrClearNotConfirmed)
	assert.Len(t, f.cart.Lines(), 1)

	require.NoError(t, f.cart.Clear(ctx, Always(true)))
	assert.Empty(t, f.cart.Lines())
}

func TestCart_FailedPersistLeavesCartUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	line, err := f.cart.AddProduct(ctx, noodles)
	require.NoError(t, err)

	f.kv.fail(true)
	_, err = f.cart.AddProduct(ctx, noodles)
	assert.ErrorIs(t, err, ErrPersist)
	_, err = f.cart.AddManualLine(ctx, model.ManualLineDraft{Name: "Bag", Price: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrPersist)
	assert.ErrorIs(t, f.cart.RemoveLine(ctx, line.ID), ErrPersist)

	lines := f.cart.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, 1, lines[0].Quantity)
	assert.Equal(t, model.LevelError, f.notifier.last().Level)
}

func TestCart_RestoreFromSnapshot(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	line := model.NewLineFromProduct(noodles)

	cases := []struct {
		name  string
		age   time.Duration
		lines int
	}{
		{"just saved", 0, 1},
		{"fresh snapshot", 59 * time.Minute, 1},
		{"stale snapshot", 61 * time.Minute, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			kv := repository.NewMemoryKV()
			snapshots := repository.NewSnapshotRepo[model.CartSnapshot](kv, "snap", 0)
			require.NoError(t, snapshots.Save(ctx, &model.CartSnapshot{
				Lines:   []model.CartLine{line},
				SavedAt: now.Add(-tc.age).UnixMilli(),
			}))

			cart := NewCartService(NewCatalogService(&stubSource{}), snapshots,
				repository.NewSnapshotRepo[model.PostSaleBackup](kv, "backup", 0),
				nil, CartOptions{Now: func() time.Time { return now }})
			defer cart.Close()
			require.NoError(t, cart.Restore(ctx))
			if tc.lines == 1 {
				assert.Equal(t, []model.CartLine{line}, cart.Lines())
			} else {
				assert.Empty(t, cart.Lines())
			}

			stored, err := snapshots.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, tc.lines == 1, stored != nil)
		})
	}
}

func TestCart_RestoreDiscardsCorruptSnapshot(t *testing.T) {
	ctx := context.Background()
	kv := repository.NewMemoryKV()
	require.NoError(t, kv.Set(ctx, "snap", []byte("[[["), 0))

	cart := NewCartService(NewCatalogService(&stubSource{}),
		repository.NewSnapshotRepo[model.CartSnapshot](kv, "snap", 0),
		repository.NewSnapshotRepo[model.PostSaleBackup](kv, "backup", 0),
		nil, CartOptions{})
	defer cart.Close()

	require.NoError(t, cart.Restore(ctx))
	assert.Empty(t, cart.Lines())
	_, ok, _ := kv.Get(ctx, "snap")
	assert.False(t, ok)
}

func TestCart_BackupRecovery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.cart.AddProduct(ctx, noodles)
	sold := f.cart.Lines()

	require.NoError(t, f.cart.WriteBackup(ctx, sold))
	require.NoError(t, f.cart.Reset(ctx))
	assert.Empty(t, f.cart.Lines())

	pending, err := f.cart.PendingBackup(ctx)
	require.NoError(t, err)
	require.NotNil(t, pending)

	_, _ = f.cart.AddProduct(ctx, milk)
	_, err = f.cart.RecoverBackup(ctx)
	assert.ErrorIs(t, err, ErrCartNotEmpty)

	require.NoError(t, f.cart.Clear(ctx, Always(true)))
	recovered, err := f.cart.RecoverBackup(ctx)
	require.NoError(t, err)
	assert.Equal(t, sold, recovered)

	_, err = f.cart.RecoverBackup(ctx)
	assert.ErrorIs(t, err, ErrNoBackup)
}

func TestCart_IncrementWarnsWhenProductLeftCatalog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	line, err := f.cart.AddProduct(ctx, noodles)
	require.NoError(t, err)

	f.source.set(milk)
	require.NoError(t, f.catalog.Refresh(ctx))

	_, err = f.cart.IncrementLine(ctx, line.ID)
	assert.ErrorIs(t, err, ErrProductNotFound)
	assert.Equal(t, model.LevelWarning, f.notifier.last().Level)
	assert.Contains(t, f.notifier.last().Message, noodles.Name)
	assert.Equal(t, 1, f.cart.Lines()[0].Quantity)
}

func TestCart_HoldIsExclusive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.cart.Hold()
	assert.ErrorIs(t, err, ErrCartEmpty)

	_, _ = f.cart.AddProduct(ctx, noodles)
	held, err := f.cart.Hold()
	require.NoError(t, err)
	assert.Equal(t, f.cart.Lines(), held)

	_, err = f.cart.Hold()
	assert.ErrorIs(t, err, ErrCheckoutInProgress)
	_, err = f.cart.AddProduct(ctx, noodles)
	assert.ErrorIs(t, err, ErrCheckoutInProgress)

	// post-sale reset is allowed while held
	require.NoError(t, f.cart.Reset(ctx))
	f.cart.Release()
	_, err = f.cart.AddProduct(ctx, noodles)
	assert.NoError(t, err)
}

func TestCart_BackupExpiresAfterGraceWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cart.WriteBackup(ctx, []model.CartLine{model.NewLineFromProduct(noodles)}))

	f.now = f.now.Add(5 * time.Minute)
	pending, err := f.cart.PendingBackup(ctx)
	require.NoError(t, err)
	assert.Nil(t, pending)
}
