package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	flowrun "flowrun"
	"flowrun/kv"
)

const (
	// DefaultMaxEntries bounds the history; the oldest entry is evicted first.
	DefaultMaxEntries = 50
	// DefaultKey is the storage key the history is persisted under.
	DefaultKey = "flowrun:execution_history"
)

// Entry is one finished top-level run.
type Entry struct {
	FlowID    string                  `json:"flowId"`
	FlowName  string                  `json:"flowName"`
	Timestamp time.Time               `json:"timestamp"`
	Source    string                  `json:"source,omitempty"`
	Report    flowrun.ExecutionReport `json:"report"`
}

// Store is a bounded, newest-first execution history persisted to a KVStore.
type Store struct {
	mu         sync.Mutex
	kv         kv.KVStore
	key        string
	maxEntries int
	entries    []Entry
}

// Option configures a Store.
type Option func(*Store)

func WithMaxEntries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxEntries = n
		}
	}
}

func WithKey(key string) Option {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

// NewStore loads the persisted history from store.
func NewStore(store kv.KVStore, opts ...Option) (*Store, error) {
	s := &Store{kv: store, key: DefaultKey, maxEntries: DefaultMaxEntries}
	for _, opt := range opts {
		opt(s)
	}
	if s.kv == nil {
		s.kv = kv.NewInMemoryKVStore()
	}

	raw, err := s.kv.Get(s.key)
	switch {
	case errors.Is(err, kv.ErrNotFound):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("load history: %w", err)
	}
	if err := json.Unmarshal(raw, &s.entries); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	if len(s.entries) > s.maxEntries {
		s.entries = s.entries[:s.maxEntries]
	}
	return s, nil
}

// Add sanitizes the report, prepends the entry and persists the history.
func (s *Store) Add(entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	entry.Report = SanitizeReport(entry.Report)

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]Entry, 0, len(s.entries)+1)
	entries = append(entries, entry)
	entries = append(entries, s.entries...)
	if len(entries) > s.maxEntries {
		entries = entries[:s.maxEntries]
	}
	s.entries = entries
	return s.persistLocked()
}

// Entries returns the history, newest first.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

// Clear drops every entry.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	return s.kv.Delete(s.key)
}

func (s *Store) persistLocked() error {
	data, err := json.Marshal(s.entries)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	return s.kv.Put(s.key, data)
}
