package cache

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"os"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/pkg/errors"
)

// RedisConfig holds configuration options for the Redis connection pool.
type RedisConfig struct {
	Address     string        `yaml:"address"`
	Username    string        `yaml:"username,omitempty"`
	Password    string        `yaml:"password,omitempty"`
	Database    int           `yaml:"database,omitempty"`
	MaxIdle     int           `yaml:"max_idle"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	TLS         *TLSConfig    `yaml:"tls,omitempty"`
}

// TLSConfig holds TLS configuration for Redis connections.
type TLSConfig struct {
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	CAFile             string `yaml:"ca_file"`
}

// Validate checks the address and the pool limits.
func (r RedisConfig) Validate() error {
	if r.Address == "" {
		return errors.New("redis address must be set and non-empty")
	}
	if r.MaxIdle < 0 {
		return errors.New("redis max_idle must be non-negative")
	}
	if r.IdleTimeout < 0 {
		return errors.New("redis idle_timeout must be non-negative")
	}
	if r.Database < 0 {
		return errors.New("redis database must be non-negative")
	}
	if r.TLS != nil && (r.TLS.CertFile == "") != (r.TLS.KeyFile == "") {
		return errors.New("both cert_file and key_file must be set together in TLS configuration")
	}
	return nil
}

// CreateClient builds a connection pool. No connection is made until first use.
func (r *RedisConfig) CreateClient() (*redis.Pool, error) {
	if err := r.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid Redis configuration")
	}
	cfg := *r
	return &redis.Pool{
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
		MaxIdle:     cfg.MaxIdle,
		IdleTimeout: cfg.IdleTimeout,
		Dial: func() (redis.Conn, error) {
			return dialRedis(cfg)
		},
	}, nil
}

func dialRedis(cfg RedisConfig) (redis.Conn, error) {
	opts := []redis.DialOption{redis.DialDatabase(cfg.Database)}
	if cfg.Username != "" {
		opts = append(opts, redis.DialUsername(cfg.Username))
	}
	if cfg.Password != "" {
		opts = append(opts, redis.DialPassword(cfg.Password))
	}
	if cfg.TLS != nil {
		tlsConfig := &tls.Config{InsecureSkipVerify: cfg.TLS.InsecureSkipVerify} // #nosec G402 -- operator opt-in
		if cfg.TLS.CAFile != "" {
			// #nosec G304 -- the CA path is operator configuration
			ca, err := os.ReadFile(cfg.TLS.CAFile)
			if err != nil {
				return nil, err
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(ca) {
				return nil, errors.Errorf("failed to parse CA certificate %q", cfg.TLS.CAFile)
			}
			tlsConfig.RootCAs = pool
		}
		if cfg.TLS.CertFile != "" {
			cert, err := tls.LoadX509KeyPair(cfg.TLS.CertFile, cfg.TLS.KeyFile)
			if err != nil {
				return nil, err
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
		opts = append(opts, redis.DialTLSConfig(tlsConfig), redis.DialUseTLS(true))
	}
	return redis.Dial("tcp", cfg.Address, opts...)
}

// ConnSource hands out Redis connections. *redis.Pool implements it.
type ConnSource interface {
	GetContext(ctx context.Context) (redis.Conn, error)
}

// Redis stores entries as JSON strings. Entries do not expire in Redis so that stale entries
// stay available.
type Redis struct {
	pool ConnSource
}

// NewRedis creates a cache over pool.
func NewRedis(pool ConnSource) *Redis {
	return &Redis{pool: pool}
}

// Name returns BackendRedis.
func (r *Redis) Name() string { return BackendRedis }

// Get returns the entry stored under key, reporting false on a miss.
func (r *Redis) Get(ctx context.Context, key string) (Entry, bool, error) {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return Entry{}, false, errors.Wrap(err, "failed to get a Redis connection")
	}
	defer func() { _ = conn.Close() }()

	data, err := redis.Bytes(conn.Do("GET", key))
	if errors.Is(err, redis.ErrNil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, errors.Wrapf(err, "failed to read cache entry %q from Redis", key)
	}
	var e Entry
	if err = json.Unmarshal(data, &e); err != nil {
		return Entry{}, false, errors.Wrapf(err, "cache entry %q is corrupt", key)
	}
	return e, true, nil
}

// Put stores entry under key without expiration.
func (r *Redis) Put(ctx context.Context, key string, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "failed to encode cache entry")
	}
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get a Redis connection")
	}
	defer func() { _ = conn.Close() }()
	if _, err = conn.Do("SET", key, data); err != nil {
		return errors.Wrapf(err, "failed to write cache entry %q to Redis", key)
	}
	return nil
}
