// Package bookmarks persists user settings and the saved-symbol list as a
// small key-value store. The store is an injected capability so the
// dashboard and API layers can run against an in-memory fake in tests.
package bookmarks

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"hypewatch/internal/domain"
)

// SavedStocksKey is the well-known key holding the bookmark list, stored as
// a JSON array of symbols (["AAPL","TSLA",...]).
const SavedStocksKey = "savedStocks"

// Store is the key-value settings capability.
type Store interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Delete(key string) error
}

// Symbols returns the saved-symbol list, empty when none saved yet.
func Symbols(s Store) ([]string, error) {
	raw, ok, err := s.Get(SavedStocksKey)
	if err != nil {
		return nil, err
	}
	if !ok || raw == "" {
		return []string{}, nil
	}
	var symbols []string
	if err := json.Unmarshal([]byte(raw), &symbols); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", SavedStocksKey, err)
	}
	return symbols, nil
}

// AddSymbol appends a symbol to the bookmark list (normalized, no dupes).
func AddSymbol(s Store, symbol string) error {
	sym := domain.NormalizeSymbol(symbol)
	if sym == "" {
		return fmt.Errorf("empty symbol")
	}

	symbols, err := Symbols(s)
	if err != nil {
		return err
	}
	for _, existing := range symbols {
		if existing == sym {
			return nil
		}
	}
	symbols = append(symbols, sym)
	sort.Strings(symbols)

	return saveSymbols(s, symbols)
}

// RemoveSymbol removes a symbol from the bookmark list. Removing a symbol
// that is not saved is a no-op.
func RemoveSymbol(s Store, symbol string) error {
	sym := domain.NormalizeSymbol(symbol)

	symbols, err := Symbols(s)
	if err != nil {
		return err
	}
	kept := symbols[:0]
	for _, existing := range symbols {
		if existing != sym {
			kept = append(kept, existing)
		}
	}
	if len(kept) == len(symbols) {
		return nil
	}
	return saveSymbols(s, kept)
}

func saveSymbols(s Store, symbols []string) error {
	raw, err := json.Marshal(symbols)
	if err != nil {
		return err
	}
	return s.Set(SavedStocksKey, string(raw))
}

// MemStore is an in-memory Store for tests and ephemeral sessions.
type MemStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{values: make(map[string]string)}
}

func (m *MemStore) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}
