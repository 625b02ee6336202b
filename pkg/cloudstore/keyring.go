package cloudstore

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/zalando/go-keyring"
)

// KeyringStore keeps the value in the operating system keyring (macOS Keychain, Secret
// Service on Linux, Windows Credential Manager).
type KeyringStore struct {
	service string
	user    string
}

// NewKeyringStore creates a store for the service/user entry of the OS keyring.
func NewKeyringStore(service, user string) *KeyringStore {
	return &KeyringStore{service: service, user: user}
}

// Put sets the keyring entry.
func (k *KeyringStore) Put(_ context.Context, value []byte) error {
	if err := keyring.Set(k.service, k.user, string(value)); err != nil {
		return errors.Wrapf(err, "failed to store %s/%s in the OS keyring", k.service, k.user)
	}
	log.Debug().Str("service", k.service).Str("user", k.user).Msg("Stored secret in OS keyring")
	return nil
}

// Get reads the keyring entry.
func (k *KeyringStore) Get(_ context.Context) ([]byte, error) {
	secret, err := keyring.Get(k.service, k.user)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, errors.Errorf("no keyring entry for %s/%s", k.service, k.user)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s/%s from the OS keyring", k.service, k.user)
	}
	return []byte(secret), nil
}

// Name describes the keyring entry for logs.
func (k *KeyringStore) Name() string {
	return "OS keyring entry " + k.service + "/" + k.user
}
