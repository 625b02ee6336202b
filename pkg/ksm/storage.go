package ksm

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// KeyValueStorage is the credential store the SDK reads and writes.
type KeyValueStorage interface {
	GetString(key string) (string, bool)
	SaveString(key, value string)
	Delete(key string)
	Keys() []string
}

// InMemoryStorage keeps credentials in memory only.
type InMemoryStorage struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewInMemoryStorage creates a storage seeded with values, which are copied.
func NewInMemoryStorage(values map[string]string) *InMemoryStorage {
	s := &InMemoryStorage{values: make(map[string]string, len(values))}
	for k, v := range values {
		s.values[k] = v
	}
	return s
}

// NewInMemoryStorageFromJSON creates a storage from a flat JSON object of strings.
func NewInMemoryStorageFromJSON(data []byte) (*InMemoryStorage, error) {
	var values map[string]string
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, errors.Wrap(err, "credentials are not a flat JSON object of strings")
	}
	return NewInMemoryStorage(values), nil
}

// GetString returns the value stored under key.
func (s *InMemoryStorage) GetString(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// SaveString stores value under key.
func (s *InMemoryStorage) SaveString(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Delete removes key.
func (s *InMemoryStorage) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// Keys returns the stored keys in sorted order.
func (s *InMemoryStorage) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
