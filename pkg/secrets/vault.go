package secrets

import (
	"github.com/animalet/sargantana-ksm/pkg/cloudstore"
	"github.com/hashicorp/vault/api"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// VaultConfig configures the vault resolver: the connection plus the path it reads from.
type VaultConfig struct {
	cloudstore.VaultConfig `yaml:",inline"`
	Path                   string `yaml:"path"`
}

// Validate checks the Vault client settings and requires a path.
func (v VaultConfig) Validate() error {
	if err := v.VaultConfig.Validate(); err != nil {
		return err
	}
	if v.Path == "" {
		return errors.New("Vault path is required")
	}
	return nil
}

// CreateClient creates a VaultResolver for Path.
func (v VaultConfig) CreateClient() (*VaultResolver, error) {
	if err := v.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid Vault configuration")
	}
	client, err := v.VaultConfig.CreateClient()
	if err != nil {
		return nil, err
	}
	return NewVaultResolver(client.Logical(), v.Path), nil
}

// LogicalReader is the part of *api.Logical the resolver uses.
type LogicalReader interface {
	Read(path string) (*api.Secret, error)
}

// VaultResolver reads keys of the secret at a fixed path. KV v1 and KV v2 layouts are supported.
//
//	secret_password: ${vault:keystore_password}
type VaultResolver struct {
	logical LogicalReader
	path    string
}

// NewVaultResolver creates a resolver reading path through logical.
func NewVaultResolver(logical LogicalReader, path string) *VaultResolver {
	return &VaultResolver{logical: logical, path: path}
}

// Resolve returns key from the secret at the configured path. KV v1 and v2 layouts are both read.
func (v *VaultResolver) Resolve(key string) (string, error) {
	secret, err := v.logical.Read(v.path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read secret from Vault path %q", v.path)
	}
	if secret == nil || secret.Data == nil {
		return "", errors.Errorf("no secret found at Vault path %q", v.path)
	}

	data := secret.Data
	if nested, present := secret.Data["data"]; present && nested != nil {
		m, ok := nested.(map[string]interface{})
		if !ok {
			return "", errors.New("unexpected data format in KV v2 secret")
		}
		data = m
	}

	value, ok := data[key].(string)
	if !ok {
		return "", errors.Errorf("secret %q not found in Vault at path %q", key, v.path)
	}
	log.Debug().Str("secret_name", key).Str("vault_path", v.path).Msg("Retrieved secret from Vault")
	return value, nil
}

// Name returns "Vault".
func (v *VaultResolver) Name() string {
	return "Vault"
}
