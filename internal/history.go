package internal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"sync"
	"time"
)

// HistoryKind separates sent-message history from mock-script history
type HistoryKind string

const (
	KindMessage HistoryKind = "message"
	KindMocker  HistoryKind = "mocker"
)

const (
	historyNamespace = "sockdebug/history/v1"
	historyKeyPrefix = "history:"

	// DefaultHistoryLimit caps persisted entries per key
	DefaultHistoryLimit = 200
)

// HistoryEntry is one persisted record. The timestamp (unix milliseconds)
// identifies the entry.
type HistoryEntry struct {
	Type      PayloadType `json:"type" yaml:"type"`
	Timestamp int64       `json:"timestamp" yaml:"timestamp"`
	Content   string      `json:"content" yaml:"content"`
	From      Origin      `json:"from,omitempty" yaml:"from,omitempty"`
}

// NewHistoryEntry builds an entry from a ledger message
func NewHistoryEntry(msg Message) HistoryEntry {
	return HistoryEntry{
		Type:      msg.Type,
		Timestamp: msg.Timestamp.UnixMilli(),
		Content:   msg.Content,
	}
}

// Time returns the entry timestamp as a time.Time
func (e HistoryEntry) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Key returns a stable identifier for the entry
func (e HistoryEntry) Key() string {
	return strconv.FormatInt(e.Timestamp, 10)
}

// HistoryKey derives the storage key for a (path, kind) pair. The same pair
// always maps to the same key.
func HistoryKey(path string, kind HistoryKind) string {
	h := sha256.New()
	h.Write([]byte(historyNamespace))
	h.Write([]byte{0})
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(path))
	return historyKeyPrefix + hex.EncodeToString(h.Sum(nil))
}

// HistoryStore persists ordered history per (path, kind), newest first.
// Every mutation reads the full sequence and rewrites it, so writers to the
// same key are serialised through a per-key lock.
type HistoryStore struct {
	kv    KVStore
	limit int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// HistoryOption configures a HistoryStore
type HistoryOption func(*HistoryStore)

// WithHistoryLimit caps the entries kept per key. Zero keeps everything.
func WithHistoryLimit(n int) HistoryOption {
	return func(h *HistoryStore) {
		if n >= 0 {
			h.limit = n
		}
	}
}

// NewHistoryStore creates a new HistoryStore over kv
func NewHistoryStore(kv KVStore, opts ...HistoryOption) *HistoryStore {
	h := &HistoryStore{
		kv:    kv,
		limit: DefaultHistoryLimit,
		locks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Backend returns the underlying key-value store
func (h *HistoryStore) Backend() KVStore {
	return h.kv
}

// keyLister is implemented by backends that can enumerate their keys
type keyLister interface {
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// StoredKeys lists the history keys in the backend. ok is false when the
// backend cannot enumerate keys.
func (h *HistoryStore) StoredKeys(ctx context.Context) (keys []string, ok bool, err error) {
	lister, ok := h.kv.(keyLister)
	if !ok {
		return nil, false, nil
	}
	keys, err = lister.Keys(ctx, historyKeyPrefix+"%")
	if err != nil {
		return nil, true, &StorageError{Op: "keys", Err: err}
	}
	return keys, true, nil
}

func (h *HistoryStore) lock(key string) func() {
	h.mu.Lock()
	l, ok := h.locks[key]
	if !ok {
		l = &sync.Mutex{}
		h.locks[key] = l
	}
	h.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Get returns the persisted entries, newest first. A missing key or
// malformed stored data yields an empty slice.
func (h *HistoryStore) Get(ctx context.Context, path string, kind HistoryKind) ([]HistoryEntry, error) {
	key := HistoryKey(path, kind)
	unlock := h.lock(key)
	defer unlock()
	return h.load(ctx, key)
}

// PushFront prepends entry and rewrites the sequence
func (h *HistoryStore) PushFront(ctx context.Context, path string, kind HistoryKind, entry HistoryEntry) error {
	key := HistoryKey(path, kind)
	unlock := h.lock(key)
	defer unlock()

	entries, err := h.load(ctx, key)
	if err != nil {
		return err
	}
	entries = append([]HistoryEntry{entry}, entries...)
	if h.limit > 0 && len(entries) > h.limit {
		entries = entries[:h.limit]
	}
	return h.save(ctx, key, entries)
}

// Remove drops every persisted entry whose timestamp matches one of entries
func (h *HistoryStore) Remove(ctx context.Context, path string, kind HistoryKind, entries ...HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	key := HistoryKey(path, kind)
	unlock := h.lock(key)
	defer unlock()

	current, err := h.load(ctx, key)
	if err != nil {
		return err
	}
	drop := make(map[int64]bool, len(entries))
	for _, e := range entries {
		drop[e.Timestamp] = true
	}
	kept := current[:0]
	for _, e := range current {
		if !drop[e.Timestamp] {
			kept = append(kept, e)
		}
	}
	return h.save(ctx, key, kept)
}

// Clear deletes the key entirely
func (h *HistoryStore) Clear(ctx context.Context, path string, kind HistoryKind) error {
	key := HistoryKey(path, kind)
	unlock := h.lock(key)
	defer unlock()

	if err := h.kv.Remove(ctx, key); err != nil {
		return &StorageError{Key: key, Op: "remove", Err: err}
	}
	return nil
}

func (h *HistoryStore) load(ctx context.Context, key string) ([]HistoryEntry, error) {
	raw, ok, err := h.kv.Get(ctx, key)
	if err != nil {
		return []HistoryEntry{}, &StorageError{Key: key, Op: "get", Err: err}
	}
	if !ok || raw == "" {
		return []HistoryEntry{}, nil
	}
	var entries []HistoryEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		LogWarn("Ignoring malformed history under %s: %v", key, err)
		return []HistoryEntry{}, nil
	}
	if entries == nil {
		entries = []HistoryEntry{}
	}
	return entries, nil
}

func (h *HistoryStore) save(ctx context.Context, key string, entries []HistoryEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return &StorageError{Key: key, Op: "encode", Err: err}
	}
	if err := h.kv.Set(ctx, key, string(data)); err != nil {
		return &StorageError{Key: key, Op: "set", Err: err}
	}
	return nil
}
