package keystore

import (
	"crypto/fips140"

	"github.com/pkg/errors"
)

// CryptoProvider is the cryptographic module a bootstrap run operates with. It is passed down
// explicitly instead of being registered process-wide.
type CryptoProvider interface {
	Name() string
	FIPSApproved() bool
	// DefaultKeystoreType names the provider's preferred container, as an extension or format name.
	DefaultKeystoreType() (string, error)
}

type runtimeProvider struct {
	fips bool
}

// Runtime returns the Go runtime crypto module. It reports FIPS approval when the binary runs
// with the FIPS 140-3 module enabled (GODEBUG=fips140=on).
func Runtime() CryptoProvider {
	return runtimeProvider{fips: fips140.Enabled()}
}

func (r runtimeProvider) Name() string {
	if r.fips {
		return "go-fips140"
	}
	return "go-crypto"
}

func (r runtimeProvider) FIPSApproved() bool { return r.fips }

// DefaultKeystoreType prefers bcfks when the FIPS module is active.
func (r runtimeProvider) DefaultKeystoreType() (string, error) {
	if r.fips {
		return "bcfks", nil
	}
	return "p12", nil
}

// StaticProvider is a CryptoProvider with fixed answers.
type StaticProvider struct {
	ProviderName string
	FIPS         bool
	KeystoreType string
	ProbeErr     error
}

func (s StaticProvider) Name() string       { return s.ProviderName }
func (s StaticProvider) FIPSApproved() bool { return s.FIPS }

// DefaultKeystoreType returns KeystoreType, or ProbeErr when set.
func (s StaticProvider) DefaultKeystoreType() (string, error) {
	if s.ProbeErr != nil {
		return "", s.ProbeErr
	}
	if s.KeystoreType == "" {
		return "", errors.Errorf("provider %q has no default keystore type", s.ProviderName)
	}
	return s.KeystoreType, nil
}
