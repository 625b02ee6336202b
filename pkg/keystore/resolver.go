package keystore

import (
	"github.com/animalet/sargantana-ksm/pkg/compliance"
	"github.com/animalet/sargantana-ksm/pkg/ksmerr"
	"github.com/rs/zerolog/log"
)

// Resolve picks the keystore format for a provider type. FIPS profiles are fixed; the default
// and named profiles follow the crypto provider's preference and fall back to PKCS12 when the
// provider cannot be probed or names something unknown.
func Resolve(t compliance.ProviderType, provider CryptoProvider) (Format, error) {
	switch t {
	case compliance.BCFIPS:
		return BCFKS, nil
	case compliance.OracleFIPS:
		return PKCS12, nil
	case compliance.Default, compliance.Named:
		return probe(provider), nil
	}
	if p, ok := compliance.ProfileFor(t); ok && p.HSMBased() {
		return PKCS11, nil
	}
	return "", ksmerr.NewConfigError("keeper.ksm.container_type", "provider %s is not persisted in a keystore", t)
}

func probe(provider CryptoProvider) Format {
	if provider == nil {
		log.Warn().Msg("No crypto provider to probe for a default keystore type, using PKCS12")
		return PKCS12
	}
	name, err := provider.DefaultKeystoreType()
	if err != nil {
		log.Warn().Err(err).Str("provider", provider.Name()).Msg("Could not probe default keystore type, using PKCS12")
		return PKCS12
	}
	f, err := FormatForExtension(name)
	if err != nil || !f.FileBased() {
		log.Warn().Str("provider", provider.Name()).Str("keystore_type", name).Msg("Unknown default keystore type, using PKCS12")
		return PKCS12
	}
	log.Debug().Str("provider", provider.Name()).Str("format", string(f)).Msg("Resolved default keystore format")
	return f
}
