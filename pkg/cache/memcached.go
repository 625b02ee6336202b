package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/pkg/errors"
)

// MemcachedConfig holds configuration for the Memcached connection.
type MemcachedConfig struct {
	// Servers is a list of host:port addresses.
	Servers []string `yaml:"servers"`
	// Timeout defaults to 100ms.
	Timeout time.Duration `yaml:"timeout"`
	// MaxIdleConns defaults to 2.
	MaxIdleConns int `yaml:"max_idle_conns"`
}

// Validate requires at least one server and non-negative limits.
func (m MemcachedConfig) Validate() error {
	if len(m.Servers) == 0 {
		return errors.New("at least one Memcached server address is required")
	}
	for i, server := range m.Servers {
		if server == "" {
			return errors.Errorf("server address at index %d is empty", i)
		}
	}
	if m.Timeout < 0 {
		return errors.New("timeout cannot be negative")
	}
	if m.MaxIdleConns < 0 {
		return errors.New("max_idle_conns cannot be negative")
	}
	return nil
}

// CreateClient builds a client. Servers are not contacted here; an unreachable Memcached only
// disables caching for that run.
func (m MemcachedConfig) CreateClient() (*memcache.Client, error) {
	if err := m.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid Memcached configuration")
	}
	client := memcache.New(m.Servers...)
	client.Timeout = 100 * time.Millisecond
	if m.Timeout > 0 {
		client.Timeout = m.Timeout
	}
	client.MaxIdleConns = 2
	if m.MaxIdleConns > 0 {
		client.MaxIdleConns = m.MaxIdleConns
	}
	return client, nil
}

// MemcacheClient is the part of *memcache.Client the cache uses.
type MemcacheClient interface {
	Get(key string) (*memcache.Item, error)
	Set(item *memcache.Item) error
}

// Memcached stores entries as JSON items without expiration.
type Memcached struct {
	client MemcacheClient
}

// NewMemcached creates a cache over client.
func NewMemcached(client MemcacheClient) *Memcached {
	return &Memcached{client: client}
}

// Name returns BackendMemcached.
func (m *Memcached) Name() string { return BackendMemcached }

// Get returns the entry stored under key, reporting false on a cache miss.
func (m *Memcached) Get(_ context.Context, key string) (Entry, bool, error) {
	item, err := m.client.Get(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, errors.Wrapf(err, "failed to read cache entry %q from Memcached", key)
	}
	var e Entry
	if err = json.Unmarshal(item.Value, &e); err != nil {
		return Entry{}, false, errors.Wrapf(err, "cache entry %q is corrupt", key)
	}
	return e, true, nil
}

// Put stores entry under key.
func (m *Memcached) Put(_ context.Context, key string, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "failed to encode cache entry")
	}
	if err = m.client.Set(&memcache.Item{Key: key, Value: data}); err != nil {
		return errors.Wrapf(err, "failed to write cache entry %q to Memcached", key)
	}
	return nil
}
