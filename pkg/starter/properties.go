package starter

import (
	"strings"

	"github.com/animalet/sargantana-ksm/internal/secure"
	"github.com/animalet/sargantana-ksm/pkg/bootstrap"
	"github.com/animalet/sargantana-ksm/pkg/cache"
	"github.com/animalet/sargantana-ksm/pkg/cloudstore"
	"github.com/animalet/sargantana-ksm/pkg/compliance"
	"github.com/animalet/sargantana-ksm/pkg/keystore"
	"github.com/pkg/errors"
)

// Prefix is the configuration section the starter binds.
const Prefix = "keeper.ksm"

// Mode keys, read at the top level of the configuration.
const (
	CryptoModeKey    = "crypto.check.mode"
	AuditModeKey     = "audit.check.mode"
	BootstrapModeKey = "bootstrap.check.mode"
)

// defaultCredential is the keystore alias and password used when none is configured.
const defaultCredential = "changeme"

// Properties is the keeper.ksm section.
//
//	keeper:
//	  ksm:
//	    container_type: bc_fips
//	    secret_path: /etc/ksm/ksm-config.bcfks
//	    secret_password: ${vault:keystore_password}
//	    records:
//	      - Production/Database
type Properties struct {
	SecretPath     string   `yaml:"secret_path"`
	OneTimeToken   string   `yaml:"one_time_token"`
	ContainerType  string   `yaml:"container_type"`
	ProviderType   string   `yaml:"provider_type"`
	SecretUser     string   `yaml:"secret_user"`
	SecretPassword string   `yaml:"secret_password"`
	PKCS11Library  string   `yaml:"pkcs11_library"`
	HSMProvider    string   `yaml:"hsm_provider"`
	EnforceIL5     bool     `yaml:"enforce_il5"`
	Records        []string `yaml:"records"`

	Cache  cache.Config            `yaml:"cache"`
	AWS    cloudstore.AWSConfig    `yaml:"aws"`
	Azure  cloudstore.AzureConfig  `yaml:"azure"`
	Google cloudstore.GoogleConfig `yaml:"google"`
	Vault  cloudstore.VaultConfig  `yaml:"vault"`
}

// Validate checks the provider type, the HSM vendor, the record specifiers and the cache section.
func (p Properties) Validate() error {
	if _, err := p.Provider(); err != nil {
		return err
	}
	if _, err := compliance.ParseHSMVendor(p.HSMProvider); err != nil {
		return err
	}
	for i, spec := range p.Records {
		if strings.TrimSpace(spec) == "" {
			return errors.Errorf("records[%d] is empty", i)
		}
	}
	return p.Cache.Validate()
}

// Provider returns the configured provider type. container_type wins over its provider_type alias.
func (p Properties) Provider() (compliance.ProviderType, error) {
	name := p.ContainerType
	if strings.TrimSpace(name) == "" {
		name = p.ProviderType
	}
	return compliance.ParseProviderType(name)
}

// TokenConfigured reports whether a one-time token file is configured.
func (p Properties) TokenConfigured() bool {
	return strings.TrimSpace(p.OneTimeToken) != ""
}

func (p Properties) user() string {
	if p.SecretUser == "" {
		return defaultCredential
	}
	return p.SecretUser
}

// Settings builds the target selection settings. The password is sealed here.
func (p Properties) Settings(crypto keystore.CryptoProvider) (bootstrap.Settings, error) {
	provider, err := p.Provider()
	if err != nil {
		return bootstrap.Settings{}, err
	}
	password := p.SecretPassword
	if password == "" {
		password = defaultCredential
	}
	return bootstrap.Settings{
		Provider:       provider,
		SecretPath:     p.SecretPath,
		SecretUser:     p.user(),
		SecretPassword: secure.FromString(password),
		PKCS11Library:  p.PKCS11Library,
		Crypto:         crypto,
		AWS:            p.AWS,
		Azure:          p.Azure,
		Google:         p.Google,
		Vault:          p.Vault,
	}, nil
}
