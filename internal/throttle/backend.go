package throttle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"sitewatch/internal/storage"
)

// Backend stores suppression windows.
type Backend interface {
	// Reserve records key until `until` and returns true, unless an entry
	// for key is still open at now, in which case it returns false and
	// leaves the entry untouched.
	Reserve(ctx context.Context, key string, until, now time.Time) (bool, error)
	Clear(ctx context.Context, key string) error
}

// StoreBackend keeps windows in the dedup table of a storage.Store.
type StoreBackend struct {
	mu    sync.Mutex
	store storage.Store
}

func NewStoreBackend(store storage.Store) (*StoreBackend, error) {
	if store == nil {
		return nil, storage.ErrDisabled
	}
	return &StoreBackend{store: store}, nil
}

func (b *StoreBackend) Reserve(ctx context.Context, key string, until, now time.Time) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	open, ok, err := b.store.GetDedup(ctx, key)
	if err != nil {
		return false, err
	}
	if ok && now.Before(open) {
		return false, nil
	}
	if err := b.store.PutDedup(ctx, key, until); err != nil {
		return false, err
	}
	return true, nil
}

func (b *StoreBackend) Clear(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.store.DeleteDedup(ctx, key)
}

// RedisBackend shares windows between processes through SET NX.
type RedisBackend struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisBackend(rdb redis.UniversalClient, prefix string) *RedisBackend {
	return &RedisBackend{rdb: rdb, prefix: prefix}
}

func (b *RedisBackend) Reserve(ctx context.Context, key string, until, now time.Time) (bool, error) {
	if !until.After(now) {
		return true, nil
	}
	args := []any{"SET", b.prefix + key, until.UnixMilli(), "NX"}
	if !until.Equal(farFuture) {
		args = append(args, "PXAT", until.UnixMilli())
	}
	err := b.rdb.Do(ctx, args...).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis reserve: %w", err)
	}
	return true, nil
}

func (b *RedisBackend) Clear(ctx context.Context, key string) error {
	return b.rdb.Del(ctx, b.prefix+key).Err()
}

func (b *RedisBackend) Close() error { return b.rdb.Close() }
