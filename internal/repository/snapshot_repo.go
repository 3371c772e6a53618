package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Slot names under a terminal's key prefix.
const (
	SlotCartSnapshot   = "cart_snapshot"
	SlotPostSaleBackup = "post_sale_backup"
	SlotPendingQR      = "pending_qr"
)

var ErrCorruptSnapshot = errors.New("stored snapshot is not valid JSON")

// TerminalKey scopes a slot to one terminal so several tills can share a store.
func TerminalKey(terminalID, slot string) string {
	return "pos:" + terminalID + ":" + slot
}

// SnapshotRepository loads, saves and clears one JSON document.
type SnapshotRepository[T any] interface {
	Load(ctx context.Context) (*T, error)
	Save(ctx context.Context, value *T) error
	Clear(ctx context.Context) error
}

type snapshotRepo[T any] struct {
	kv  KVStore
	key string
	ttl time.Duration
}

func NewSnapshotRepo[T any](kv KVStore, key string, ttl time.Duration) SnapshotRepository[T] {
	return &snapshotRepo[T]{kv: kv, key: key, ttl: ttl}
}

// Load returns nil, nil when nothing is stored.
func (r *snapshotRepo[T]) Load(ctx context.Context) (*T, error) {
	raw, ok, err := r.kv.Get(ctx, r.key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptSnapshot, r.key, err)
	}
	return &value, nil
}

func (r *snapshotRepo[T]) Save(ctx context.Context, value *T) error {
	if value == nil {
		return r.Clear(ctx)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.kv.Set(ctx, r.key, raw, r.ttl)
}

func (r *snapshotRepo[T]) Clear(ctx context.Context) error {
	return r.kv.Delete(ctx, r.key)
}
