package kv

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("key not found")

// KVStore is durable keyed storage for engine state such as run history.
type KVStore interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) error
	Keys(prefix string) ([]string, error)
	Close() error
}

// InMemoryKVStore keeps values in process memory.
type InMemoryKVStore struct {
	data map[string][]byte
	mu   sync.RWMutex
}

func NewInMemoryKVStore() *InMemoryKVStore {
	return &InMemoryKVStore{
		data: make(map[string][]byte),
	}
}

func (kv *InMemoryKVStore) Get(key string) ([]byte, error) {
	kv.mu.RLock()
	defer kv.mu.RUnlock()

	value, exists := kv.data[key]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return append([]byte(nil), value...), nil
}

func (kv *InMemoryKVStore) Put(key string, value []byte) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.data[key] = append([]byte(nil), value...)
	return nil
}

func (kv *InMemoryKVStore) Delete(key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	delete(kv.data, key)
	return nil
}

func (kv *InMemoryKVStore) Keys(prefix string) ([]string, error) {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	return matchingKeys(kv.data, prefix), nil
}

func (kv *InMemoryKVStore) Close() error {
	return nil
}

// FileBasedKVStore persists the whole keyspace as one JSON document, rewritten
// atomically on every mutation.
type FileBasedKVStore struct {
	filePath string
	data     map[string][]byte
	mu       sync.RWMutex
}

// NewFileBasedKVStore opens filePath, loading existing content. A missing
// file starts an empty store.
func NewFileBasedKVStore(filePath string) (*FileBasedKVStore, error) {
	store := &FileBasedKVStore{
		filePath: filePath,
		data:     make(map[string][]byte),
	}

	raw, err := os.ReadFile(filePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return store, nil
	case err != nil:
		return nil, fmt.Errorf("read kv file: %w", err)
	}
	if len(raw) == 0 {
		return store, nil
	}
	if err := json.Unmarshal(raw, &store.data); err != nil {
		return nil, fmt.Errorf("decode kv file %s: %w", filePath, err)
	}
	return store, nil
}

func (kv *FileBasedKVStore) Get(key string) ([]byte, error) {
	kv.mu.RLock()
	defer kv.mu.RUnlock()

	value, exists := kv.data[key]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return append([]byte(nil), value...), nil
}

func (kv *FileBasedKVStore) Put(key string, value []byte) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	kv.data[key] = append([]byte(nil), value...)
	return kv.flushLocked()
}

func (kv *FileBasedKVStore) Delete(key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	delete(kv.data, key)
	return kv.flushLocked()
}

func (kv *FileBasedKVStore) Keys(prefix string) ([]string, error) {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	return matchingKeys(kv.data, prefix), nil
}

func (kv *FileBasedKVStore) Close() error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	return kv.flushLocked()
}

// flushLocked writes the store to disk; the caller holds the write lock.
func (kv *FileBasedKVStore) flushLocked() error {
	data, err := json.MarshalIndent(kv.data, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(kv.filePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := kv.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, kv.filePath)
}

func matchingKeys(data map[string][]byte, prefix string) []string {
	keys := make([]string, 0, len(data))
	for k := range data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
