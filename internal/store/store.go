package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kursadbilgin/campaign-engine/internal/domain"
)

// KeyedStore is a JSON-file-backed table mapping a string key to T.
//
// The on-disk representation is always a single pretty-printed JSON object so
// tables stay human-inspectable. Every mutation is a full
// read-file -> mutate -> write-file cycle under the store's mutex; the mutex
// is what makes concurrent Upsert calls safe within one process. Cross-process
// writers are not supported.
type KeyedStore[T any] struct {
	mu   sync.Mutex
	path string
}

func NewKeyedStore[T any](path string) (*KeyedStore[T], error) {
	if path == "" {
		return nil, fmt.Errorf("%w: store path is required", domain.ErrValidation)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create table directory: %v", domain.ErrPersistence, err)
	}
	return &KeyedStore[T]{path: path}, nil
}

// Path returns the table file location.
func (s *KeyedStore[T]) Path() string { return s.path }

// Load reads the whole table. It fails soft: a missing, unreadable or corrupt
// file yields an empty table so a first run or a damaged file restarts the
// table instead of blocking the caller.
func (s *KeyedStore[T]) Load() map[string]T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

// Save overwrites the table file with the full mapping. Unlike Load it fails
// hard: write errors (disk full, permissions) must reach the caller.
func (s *KeyedStore[T]) Save(entries map[string]T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(entries)
}

// Upsert sets one entry and persists the table. Last write wins per key.
func (s *KeyedStore[T]) Upsert(key string, value T) error {
	if key == "" {
		return fmt.Errorf("%w: store key is required", domain.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.loadLocked()
	entries[key] = value
	return s.saveLocked(entries)
}

// Get returns one entry by key.
func (s *KeyedStore[T]) Get(key string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.loadLocked()[key]
	return value, ok
}

// All returns a copy of the full table.
func (s *KeyedStore[T]) All() map[string]T {
	return s.Load()
}

// Len returns the number of entries.
func (s *KeyedStore[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.loadLocked())
}

// Clear removes the table file. The next Load starts from an empty table.
func (s *KeyedStore[T]) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: clear table %s: %v", domain.ErrPersistence, s.path, err)
	}
	return nil
}

func (s *KeyedStore[T]) loadLocked() map[string]T {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return map[string]T{}
	}

	var entries map[string]T
	if err := json.Unmarshal(data, &entries); err != nil || entries == nil {
		return map[string]T{}
	}
	return entries
}

func (s *KeyedStore[T]) saveLocked(entries map[string]T) error {
	if entries == nil {
		entries = map[string]T{}
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal table %s: %v", domain.ErrPersistence, s.path, err)
	}

	// Write whole, then rename, so readers never observe a partial table.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("%w: write table %s: %v", domain.ErrPersistence, s.path, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("%w: replace table %s: %v", domain.ErrPersistence, s.path, err)
	}
	return nil
}
