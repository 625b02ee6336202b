// Package cloudstore keeps the KSM credentials in a managed secret store: AWS Secrets Manager,
// Azure Key Vault, Google Secret Manager, HashiCorp Vault or the operating system keyring.
//
// Every store writes with create-or-update semantics: an existing secret gets a new value.
// Clients are reached through small interfaces so tests can inject fakes, the same way the
// real SDK clients are injected with the With*Client options.
package cloudstore

import (
	"context"
)

// Store holds a single secret value.
type Store interface {
	// Put creates the secret or replaces its value.
	Put(ctx context.Context, value []byte) error
	// Get returns the current value.
	Get(ctx context.Context) ([]byte, error)
	// Name describes the store and the secret location for logs.
	Name() string
}
