// Package secure keeps configured secrets such as keystore passwords and HSM PINs encrypted in
// memory until the moment they are used.
package secure

import (
	"sync"

	"github.com/awnumar/memguard"
)

// Secret is a sealed value. The zero value and a nil *Secret are empty.
type Secret struct {
	mu      sync.RWMutex
	enclave *memguard.Enclave
}

// NewSecret seals value and wipes the caller's slice.
func NewSecret(value []byte) *Secret {
	if len(value) == 0 {
		return &Secret{}
	}
	// NewEnclave wipes value once sealed.
	return &Secret{enclave: memguard.NewEnclave(value)}
}

// FromString seals s. The string itself cannot be wiped.
func FromString(s string) *Secret {
	return NewSecret([]byte(s))
}

// Empty reports whether no value is sealed.
func (s *Secret) Empty() bool {
	if s == nil {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enclave == nil
}

// Use opens the secret, passes the plaintext to fn and destroys the plaintext afterwards.
// fn must not retain the slice.
func (s *Secret) Use(fn func(plain []byte) error) error {
	if s.Empty() {
		return fn(nil)
	}
	s.mu.RLock()
	buf, err := s.enclave.Open()
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	defer buf.Destroy()
	return fn(buf.Bytes())
}

// Destroy forgets the sealed value.
func (s *Secret) Destroy() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enclave = nil
}

// String never reveals the value.
func (s *Secret) String() string {
	return "[REDACTED]"
}
