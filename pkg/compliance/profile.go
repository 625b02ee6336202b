// Package compliance holds the static compliance facts of every credential storage provider and
// the startup validator that gates IL5 deployments.
package compliance

import (
	"strings"

	"github.com/animalet/sargantana-ksm/pkg/ksmerr"
)

// ProviderType names where the KSM bootstrap credentials live.
type ProviderType string

const (
	Default    ProviderType = "default"
	Named      ProviderType = "named"
	BCFIPS     ProviderType = "bc_fips"
	OracleFIPS ProviderType = "oracle_fips"
	SunPKCS11  ProviderType = "sun_pkcs11"
	HSM        ProviderType = "hsm"
	AWSHSM     ProviderType = "aws_hsm"
	AzureHSM   ProviderType = "azure_hsm"
	Fortanix   ProviderType = "fortanix"
	AWS        ProviderType = "aws"
	Azure      ProviderType = "azure"
	Google     ProviderType = "google"
	Vault      ProviderType = "vault"
	Keyring    ProviderType = "keyring"
	Raw        ProviderType = "raw"
)

// Tier is an impact level. Tiers are totally ordered: IL2 < IL4 < IL5 < IL6.
type Tier int

const (
	IL2 Tier = 2
	IL4 Tier = 4
	IL5 Tier = 5
	IL6 Tier = 6
)

// String returns the tier name, such as "IL5".
func (t Tier) String() string {
	switch t {
	case IL2:
		return "IL2"
	case IL4:
		return "IL4"
	case IL5:
		return "IL5"
	case IL6:
		return "IL6"
	}
	return "IL?"
}

// CommercialProfile is the commercial certification a provider maps to.
type CommercialProfile string

const (
	ProfileNone            CommercialProfile = "none"
	ProfileSOC2            CommercialProfile = "soc2"
	ProfileISO27001        CommercialProfile = "iso27001"
	ProfileFedRAMPLow      CommercialProfile = "fedramp_low"
	ProfileFedRAMPModerate CommercialProfile = "fedramp_moderate"
	ProfileFedRAMPHigh     CommercialProfile = "fedramp_high"
	ProfileFIPS1402        CommercialProfile = "fips_140_2"
)

// StorageClass groups providers by the kind of target that holds the credentials.
type StorageClass int

const (
	StorageKeystore StorageClass = iota
	StorageRaw
	StorageCloud
	StorageHSM
	StorageKeyring
)

// String returns the storage class name.
func (s StorageClass) String() string {
	return [...]string{"keystore", "raw", "cloud", "hsm", "keyring"}[s]
}

// Profile is the static compliance record of a provider type.
type Profile struct {
	Type            ProviderType
	Tier            Tier
	Commercial      CommercialProfile
	FIPS            bool
	Storage         StorageClass
	DefaultLocation string
}

const defaultHSMLocation = "pkcs11://slot/0/token/kms"

var profiles = map[ProviderType]Profile{
	Default:    {Default, IL2, ProfileNone, false, StorageKeystore, "ksm-config.p12"},
	Named:      {Named, IL2, ProfileNone, false, StorageKeystore, "ksm-config.p12"},
	BCFIPS:     {BCFIPS, IL5, ProfileFIPS1402, true, StorageKeystore, "ksm-config.bcfks"},
	OracleFIPS: {OracleFIPS, IL5, ProfileFIPS1402, true, StorageKeystore, "ksm-config.p12"},
	SunPKCS11:  {SunPKCS11, IL5, ProfileFIPS1402, true, StorageHSM, defaultHSMLocation},
	HSM:        {HSM, IL5, ProfileFIPS1402, true, StorageHSM, defaultHSMLocation},
	AWSHSM:     {AWSHSM, IL5, ProfileFedRAMPHigh, true, StorageHSM, defaultHSMLocation},
	AzureHSM:   {AzureHSM, IL5, ProfileFedRAMPHigh, true, StorageHSM, defaultHSMLocation},
	Fortanix:   {Fortanix, IL5, ProfileFIPS1402, true, StorageHSM, defaultHSMLocation},
	AWS:        {AWS, IL5, ProfileFedRAMPHigh, true, StorageCloud, "ksm-config"},
	Azure:      {Azure, IL5, ProfileFedRAMPHigh, true, StorageCloud, "https://vault.vault.azure.net/"},
	Google:     {Google, IL4, ProfileFedRAMPModerate, false, StorageCloud, "projects/project/secrets/ksm-config"},
	Vault:      {Vault, IL4, ProfileNone, false, StorageCloud, "secret/ksm-config"},
	Keyring:    {Keyring, IL2, ProfileNone, false, StorageKeyring, "keeper-ksm"},
	Raw:        {Raw, IL2, ProfileNone, false, StorageRaw, "ksm-config.json"},
}

// ParseProviderType accepts the configured name case-insensitively, with '-' or '_' separators.
// An empty name selects Default.
func ParseProviderType(name string) (ProviderType, error) {
	if strings.TrimSpace(name) == "" {
		return Default, nil
	}
	t := ProviderType(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_"))
	if _, ok := profiles[t]; !ok {
		return "", ksmerr.NewConfigError("keeper.ksm.container_type", "Unexpected or unimplemented provider: %s", name)
	}
	return t, nil
}

// ProfileFor returns the profile of t.
func ProfileFor(t ProviderType) (Profile, bool) {
	p, ok := profiles[t]
	return p, ok
}

// MustProfile returns the profile of t and panics for unknown types.
func MustProfile(t ProviderType) Profile {
	p, ok := profiles[t]
	if !ok {
		panic("compliance: unknown provider type " + string(t))
	}
	return p
}

// IL5Ready reports whether the provider meets IL5 or above.
func (p Profile) IL5Ready() bool      { return p.Tier >= IL5 }
func (p Profile) CloudBased() bool    { return p.Storage == StorageCloud }
func (p Profile) KeystoreBased() bool { return p.Storage == StorageKeystore }
func (p Profile) HSMBased() bool      { return p.Storage == StorageHSM }
func (p Profile) Raw() bool           { return p.Storage == StorageRaw }
func (p Profile) FedRAMPHigh() bool   { return p.Commercial == ProfileFedRAMPHigh }

// HSMVendor identifies the PKCS#11 module behind an HSM-backed provider.
type HSMVendor string

const (
	SoftHSM2          HSMVendor = "softhsm2"
	GenericPKCS11     HSMVendor = "pkcs11"
	AWSCloudHSM       HSMVendor = "aws_cloudhsm"
	AzureDedicatedHSM HSMVendor = "azure_dedicated_hsm"
	FortanixDSM       HSMVendor = "fortanix_dsm"
	ThalesLuna        HSMVendor = "thales_luna"
)

var fipsApprovedVendors = map[HSMVendor]bool{
	SoftHSM2:          false,
	GenericPKCS11:     false,
	AWSCloudHSM:       true,
	AzureDedicatedHSM: true,
	FortanixDSM:       true,
	ThalesLuna:        true,
}

// ParseHSMVendor normalizes a configured vendor name. Case and separators are ignored, so
// "awsCloudHsm", "aws-cloudhsm" and "AWS_CLOUDHSM" are the same vendor.
func ParseHSMVendor(name string) (HSMVendor, error) {
	if strings.TrimSpace(name) == "" {
		return "", nil
	}
	key := squash(name)
	for v := range fipsApprovedVendors {
		if squash(string(v)) == key {
			return v, nil
		}
	}
	if key == "fortanix" {
		return FortanixDSM, nil
	}
	return "", ksmerr.NewConfigError("keeper.ksm.hsm_provider", "unknown HSM provider %q", name)
}

// FIPSApproved reports whether the vendor's PKCS#11 module is FIPS 140 validated.
func (v HSMVendor) FIPSApproved() bool {
	return fipsApprovedVendors[v]
}

func squash(name string) string {
	r := strings.NewReplacer("_", "", "-", "", " ", "")
	return strings.ToLower(r.Replace(strings.TrimSpace(name)))
}
