// Package cache keeps the last projection of KSM records so that startup can be served without
// contacting Keeper while the entry is fresh, or while Keeper is unreachable when stale entries
// are allowed.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Entry is a cached projection.
type Entry struct {
	Properties map[string]string `json:"properties"`
	FetchedAt  time.Time         `json:"fetched_at"`
}

// Fresh reports whether the entry is younger than ttl at now. A non-positive ttl means never fresh.
func (e Entry) Fresh(ttl time.Duration, now time.Time) bool {
	return ttl > 0 && now.Sub(e.FetchedAt) < ttl
}

// Store persists entries by key.
type Store interface {
	// Get returns the entry for key. A missing entry is not an error.
	Get(ctx context.Context, key string) (Entry, bool, error)
	Put(ctx context.Context, key string, entry Entry) error
	Name() string
}

// Backends.
const (
	BackendFile      = "file"
	BackendMemory    = "memory"
	BackendRedis     = "redis"
	BackendMemcached = "memcached"
)

const (
	DefaultTTL = 5 * time.Minute
	keyPrefix  = "keeper-ksm:"
)

// Config is the keeper.ksm.cache section.
type Config struct {
	Enabled             *bool            `yaml:"enabled"`
	Persist             *bool            `yaml:"persist"`
	Path                string           `yaml:"path"`
	TTL                 time.Duration    `yaml:"ttl"`
	AllowStaleIfOffline bool             `yaml:"allow_stale_if_offline"`
	Backend             string           `yaml:"backend"`
	Redis               *RedisConfig     `yaml:"redis,omitempty"`
	Memcached           *MemcachedConfig `yaml:"memcached,omitempty"`
}

// IsEnabled defaults to true.
func (c Config) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }

// Persistent defaults to true.
func (c Config) Persistent() bool { return c.Persist == nil || *c.Persist }

// EffectiveTTL returns the TTL, DefaultTTL when unset.
func (c Config) EffectiveTTL() time.Duration {
	if c.TTL == 0 {
		return DefaultTTL
	}
	return c.TTL
}

// EffectivePath returns the cache file, ~/.keeper/ksm/ksm-cache.json when unset.
func (c Config) EffectivePath() (string, error) {
	if c.Path != "" {
		return c.Path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "cannot locate the default KSM cache file")
	}
	return filepath.Join(home, ".keeper", "ksm", "ksm-cache.json"), nil
}

// Validate checks the TTL, the backend name and the selected backend's section.
func (c Config) Validate() error {
	if c.TTL < 0 {
		return errors.New("cache ttl cannot be negative")
	}
	switch c.Backend {
	case "", BackendFile, BackendMemory:
	case BackendRedis:
		if c.Redis == nil {
			return errors.New("the redis cache backend needs a redis section")
		}
		return c.Redis.Validate()
	case BackendMemcached:
		if c.Memcached == nil {
			return errors.New("the memcached cache backend needs a memcached section")
		}
		return c.Memcached.Validate()
	default:
		return errors.Errorf("unknown cache backend %q", c.Backend)
	}
	return nil
}

// Open creates the store for c. It returns nil when caching is disabled.
func Open(c Config) (Store, error) {
	if !c.IsEnabled() {
		return nil, nil
	}
	if err := c.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid KSM cache configuration")
	}
	switch c.Backend {
	case BackendRedis:
		pool, err := c.Redis.CreateClient()
		if err != nil {
			return nil, err
		}
		return NewRedis(pool), nil
	case BackendMemcached:
		client, err := c.Memcached.CreateClient()
		if err != nil {
			return nil, err
		}
		return NewMemcached(client), nil
	case BackendMemory:
		return NewMemory(), nil
	}
	if !c.Persistent() {
		return NewMemory(), nil
	}
	path, err := c.EffectivePath()
	if err != nil {
		return nil, err
	}
	return NewFile(path), nil
}

// Key derives the cache key of a set of record specifiers. Order does not matter.
func Key(specs []string) string {
	sorted := append([]string(nil), specs...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\n")))
	return keyPrefix + hex.EncodeToString(sum[:])
}
