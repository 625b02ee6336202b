package keeper

import (
	"encoding/base64"
	"fmt"

	"github.com/animalet/sargantana-ksm/pkg/ksm"
	"github.com/keeper-security/secrets-manager-go/core"
)

var _ core.IKeyValueStorage = (*Storage)(nil)

// Storage exposes a ksm.KeyValueStorage as the SDK configuration storage. Values the SDK
// writes are kept as strings; byte slices are base64 encoded.
type Storage struct {
	kv ksm.KeyValueStorage
}

// NewStorage wraps kv.
func NewStorage(kv ksm.KeyValueStorage) *Storage {
	return &Storage{kv: kv}
}

// ReadStorage returns every stored entry.
func (s *Storage) ReadStorage() map[string]interface{} {
	out := make(map[string]interface{})
	for _, k := range s.kv.Keys() {
		if v, ok := s.kv.GetString(k); ok {
			out[k] = v
		}
	}
	return out
}

// SaveStorage replaces the stored entries with updated.
func (s *Storage) SaveStorage(updated map[string]interface{}) {
	for _, k := range s.kv.Keys() {
		if _, keep := updated[k]; !keep {
			s.kv.Delete(k)
		}
	}
	for k, v := range updated {
		s.kv.SaveString(k, toString(v))
	}
}

// Get returns the value under key, empty when missing.
func (s *Storage) Get(key core.ConfigKey) string {
	v, _ := s.kv.GetString(string(key))
	return v
}

// Set stores value under key.
func (s *Storage) Set(key core.ConfigKey, value interface{}) map[string]interface{} {
	s.kv.SaveString(string(key), toString(value))
	return s.ReadStorage()
}

// Delete removes key.
func (s *Storage) Delete(key core.ConfigKey) map[string]interface{} {
	s.kv.Delete(string(key))
	return s.ReadStorage()
}

// DeleteAll removes every entry.
func (s *Storage) DeleteAll() map[string]interface{} {
	for _, k := range s.kv.Keys() {
		s.kv.Delete(k)
	}
	return map[string]interface{}{}
}

// Contains reports whether key is stored.
func (s *Storage) Contains(key core.ConfigKey) bool {
	_, ok := s.kv.GetString(string(key))
	return ok
}

// IsEmpty reports whether nothing is stored.
func (s *Storage) IsEmpty() bool {
	return len(s.kv.Keys()) == 0
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return base64.StdEncoding.EncodeToString(t)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
