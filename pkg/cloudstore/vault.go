package cloudstore

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/hashicorp/vault/api"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// VaultConfig holds configuration for connecting to HashiCorp Vault
type VaultConfig struct {
	Address   string `yaml:"address"`
	Token     string `yaml:"token"`
	Namespace string `yaml:"namespace"`
	// Mount is the KV v2 mount. Defaults to the first segment of the secret path.
	Mount string `yaml:"mount"`
}

// Validate checks if the VaultConfig has all required fields set
func (v VaultConfig) Validate() error {
	if v.Address == "" {
		return errors.New("vault address must be set and non-empty")
	}
	if v.Token == "" {
		return errors.New("vault token must be set and non-empty")
	}
	return nil
}

// CreateClient creates and configures a Vault client from this config.
func (v VaultConfig) CreateClient() (*api.Client, error) {
	if err := v.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid Vault configuration")
	}
	config := api.DefaultConfig()
	config.Address = v.Address

	client, err := api.NewClient(config)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Vault client")
	}
	client.SetToken(v.Token)
	if v.Namespace != "" {
		client.SetNamespace(v.Namespace)
	}
	return client, nil
}

// SplitMount splits "secret/ksm-config" into mount "secret" and path "ksm-config" unless
// mount is given explicitly.
func SplitMount(secretPath, mount string) (string, string, error) {
	secretPath = strings.Trim(secretPath, "/")
	if mount != "" {
		return strings.Trim(mount, "/"), strings.TrimPrefix(secretPath, strings.Trim(mount, "/")+"/"), nil
	}
	i := strings.Index(secretPath, "/")
	if i <= 0 || i == len(secretPath)-1 {
		return "", "", errors.Errorf("vault secret path %q must be <mount>/<path>", secretPath)
	}
	return secretPath[:i], secretPath[i+1:], nil
}

// VaultKV is the part of *api.KVv2 used by VaultStore.
type VaultKV interface {
	Put(ctx context.Context, secretPath string, data map[string]interface{}, opts ...api.KVOption) (*api.KVSecret, error)
	Get(ctx context.Context, secretPath string) (*api.KVSecret, error)
}

// VaultStore keeps the credentials as the fields of a KV v2 secret. Every write is a new version.
type VaultStore struct {
	kv   VaultKV
	path string
}

// NewVaultStore creates a store for path inside the KV v2 mount kv is bound to.
func NewVaultStore(kv VaultKV, path string) *VaultStore {
	return &VaultStore{kv: kv, path: path}
}

// Put expects value to be a flat JSON object and writes its members as secret fields.
func (v *VaultStore) Put(ctx context.Context, value []byte) error {
	var data map[string]interface{}
	if err := json.Unmarshal(value, &data); err != nil {
		return errors.Wrap(err, "vault secrets must be JSON objects")
	}
	if _, err := v.kv.Put(ctx, v.path, data); err != nil {
		return errors.Wrapf(err, "failed to write secret %q to Vault", v.path)
	}
	log.Debug().Str("path", v.path).Msg("Stored secret in Vault")
	return nil
}

// Get reads the latest secret version back into a JSON object.
func (v *VaultStore) Get(ctx context.Context) ([]byte, error) {
	secret, err := v.kv.Get(ctx, v.path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read secret %q from Vault", v.path)
	}
	if secret == nil || secret.Data == nil {
		return nil, errors.Errorf("secret %q not found in Vault", v.path)
	}
	return json.Marshal(secret.Data)
}

// Name describes the secret for logs.
func (v *VaultStore) Name() string {
	return "Vault secret " + v.path
}
