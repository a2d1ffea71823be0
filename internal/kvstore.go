package internal

import (
	"context"
	"fmt"
	"sync"
)

// KVStore is the string-keyed store history is persisted into
type KVStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Close() error
}

// Storage drivers accepted by OpenKVStore
const (
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

// OpenKVStore opens the history backend selected by cfg
func OpenKVStore(ctx context.Context, cfg StorageConfig) (KVStore, error) {
	switch cfg.Driver {
	case "", DriverSQLite:
		return OpenSQLiteStore(cfg.Path)
	case DriverRedis:
		return NewRedisStore(ctx, cfg.RedisURL)
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s (supported: sqlite, redis, memory)", cfg.Driver)
	}
}

// MemoryStore is a process-local KVStore
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
