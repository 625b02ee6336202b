package bootstrap

import (
	"context"

	"github.com/animalet/sargantana-ksm/internal/secure"
	"github.com/animalet/sargantana-ksm/pkg/cloudstore"
	"github.com/animalet/sargantana-ksm/pkg/compliance"
	"github.com/animalet/sargantana-ksm/pkg/hsm"
	"github.com/animalet/sargantana-ksm/pkg/keystore"
	"github.com/animalet/sargantana-ksm/pkg/ksmerr"
	"github.com/rs/zerolog/log"
)

// Settings is the configuration that decides the persistence target.
type Settings struct {
	Provider       compliance.ProviderType
	SecretPath     string
	SecretUser     string
	SecretPassword *secure.Secret
	PKCS11Library  string
	Crypto         keystore.CryptoProvider

	AWS    cloudstore.AWSConfig
	Azure  cloudstore.AzureConfig
	Google cloudstore.GoogleConfig
	Vault  cloudstore.VaultConfig
}

// Clients injects pre-built clients. Nil clients are created from Settings on first use.
type Clients struct {
	AWS    cloudstore.SecretsManagerAPI
	Azure  cloudstore.KeyVaultAPI
	Google cloudstore.SecretManagerAPI
	Vault  cloudstore.VaultKV
	HSM    hsm.Module
}

// DefaultLocation is the secret path used when none is configured.
func DefaultLocation(t compliance.ProviderType, crypto keystore.CryptoProvider) (string, error) {
	profile, ok := compliance.ProfileFor(t)
	if !ok {
		return "", ksmerr.NewConfigError("keeper.ksm.container_type", "Unexpected or unimplemented provider: %s", t)
	}
	if profile.KeystoreBased() {
		format, err := keystore.Resolve(t, crypto)
		if err != nil {
			return "", err
		}
		return keystore.DefaultFilename(format), nil
	}
	return profile.DefaultLocation, nil
}

// SelectTarget maps the configured provider type to its persistence target. It is decided once
// per run; no client is contacted here.
func SelectTarget(s Settings, c Clients) (Target, error) {
	profile, ok := compliance.ProfileFor(s.Provider)
	if !ok {
		return nil, ksmerr.NewConfigError("keeper.ksm.container_type", "Unexpected or unimplemented provider: %s", s.Provider)
	}
	location := s.SecretPath
	if location == "" {
		var err error
		if location, err = DefaultLocation(s.Provider, s.Crypto); err != nil {
			return nil, err
		}
		log.Debug().Str("provider", string(s.Provider)).Str("location", location).Msg("Using default secret location")
	}

	switch profile.Storage {
	case compliance.StorageRaw:
		return RawFile{Path: location}, nil

	case compliance.StorageKeystore:
		format, err := keystore.Resolve(s.Provider, s.Crypto)
		if err != nil {
			return nil, err
		}
		return PlatformKeystore{Format: format, Path: location, Alias: s.SecretUser, Password: s.SecretPassword}, nil

	case compliance.StorageHSM:
		loc, err := hsm.ParseLocation(location)
		if err != nil {
			return nil, err
		}
		var opts []hsm.Option
		if c.HSM != nil {
			opts = append(opts, hsm.WithModule(c.HSM))
		}
		return HsmSlot{
			Config: hsm.Config{
				Library:  s.PKCS11Library,
				Location: loc,
				Label:    s.SecretUser,
				PIN:      s.SecretPassword,
			},
			Options: opts,
		}, nil

	case compliance.StorageKeyring:
		return OSKeyring{Service: location, User: s.SecretUser}, nil

	case compliance.StorageCloud:
		return cloudTarget(s, c, location)
	}
	return nil, ksmerr.NewConfigError("keeper.ksm.container_type", "Unexpected or unimplemented provider: %s", s.Provider)
}

func cloudTarget(s Settings, c Clients, location string) (Target, error) {
	target := CloudSecretStore{Provider: s.Provider, Location: location}
	switch s.Provider {
	case compliance.AWS:
		target.Connect = func(context.Context) (cloudstore.Store, error) {
			client := c.AWS
			if client == nil {
				created, err := s.AWS.CreateClient()
				if err != nil {
					return nil, err
				}
				client = created
			}
			return cloudstore.NewAWSStore(client, location), nil
		}

	case compliance.Azure:
		// The location is the vault URL and the secret user names the secret.
		target.Connect = func(context.Context) (cloudstore.Store, error) {
			client := c.Azure
			if client == nil {
				created, err := s.Azure.CreateClient(location)
				if err != nil {
					return nil, err
				}
				client = created
			}
			return cloudstore.NewAzureStore(client, s.SecretUser), nil
		}

	case compliance.Google:
		name, err := cloudstore.ParseSecretName(location)
		if err != nil {
			return nil, ksmerr.WrapConfig(err, "keeper.ksm.secret_path", "invalid Google secret name")
		}
		target.Connect = func(ctx context.Context) (cloudstore.Store, error) {
			if c.Google != nil {
				return cloudstore.NewGoogleStore(c.Google, name), nil
			}
			created, err := s.Google.CreateClient(ctx)
			if err != nil {
				return nil, err
			}
			return cloudstore.NewOwningGoogleStore(created, name), nil
		}

	case compliance.Vault:
		mount, path, err := cloudstore.SplitMount(location, s.Vault.Mount)
		if err != nil {
			return nil, ksmerr.WrapConfig(err, "keeper.ksm.secret_path", "invalid Vault secret path")
		}
		target.Connect = func(context.Context) (cloudstore.Store, error) {
			kv := c.Vault
			if kv == nil {
				client, err := s.Vault.CreateClient()
				if err != nil {
					return nil, err
				}
				kv = client.KVv2(mount)
			}
			return cloudstore.NewVaultStore(kv, path), nil
		}

	default:
		return nil, ksmerr.NewConfigError("keeper.ksm.container_type", "Unexpected or unimplemented provider: %s", s.Provider)
	}
	return target, nil
}
