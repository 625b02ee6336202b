// Package keystore resolves which password-protected container format holds the KSM credentials
// and reads and writes those containers.
//
// The container is a JSON envelope of AEAD-sealed secret entries. A Format selects the key
// derivation and cipher suite and the default file extension; it does not select the on-disk
// layout of the JCA keystore type of the same name. Files written here cannot be opened with
// keytool or openssl, and JCA keystores cannot be read here.
package keystore

import (
	"strings"

	"github.com/pkg/errors"
)

// Format is a keystore container format.
type Format string

const (
	PKCS12 Format = "PKCS12"
	BCFKS  Format = "BCFKS"
	BKS    Format = "BKS"
	JKS    Format = "JKS"
	// PKCS11 is not a file: entries live inside an HSM token.
	PKCS11 Format = "PKCS11"
)

var extensions = map[Format]string{
	PKCS12: "p12",
	BCFKS:  "bcfks",
	BKS:    "bks",
	JKS:    "jks",
}

// Extension returns the default file extension of f, empty for PKCS11.
func (f Format) Extension() string {
	return extensions[f]
}

// FileBased reports whether f is stored in a file.
func (f Format) FileBased() bool {
	_, ok := extensions[f]
	return ok
}

// FIPSApproved reports whether the sealing suite of f only uses FIPS-approved algorithms.
func (f Format) FIPSApproved() bool {
	s, ok := suites[f]
	return ok && s.fips
}

// FormatForExtension maps a file extension or format name to a Format.
// "p12", "pfx" and "pkcs12" all map to PKCS12.
func FormatForExtension(ext string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), ".")) {
	case "p12", "pfx", "pkcs12":
		return PKCS12, nil
	case "bcfks":
		return BCFKS, nil
	case "bks":
		return BKS, nil
	case "jks":
		return JKS, nil
	case "pkcs11":
		return PKCS11, nil
	}
	return "", errors.Errorf("unsupported keystore extension %q", ext)
}

// DefaultFilename is the file name used when no secret path is configured.
func DefaultFilename(f Format) string {
	ext := f.Extension()
	if ext == "" {
		ext = PKCS12.Extension()
	}
	return "ksm-config." + ext
}
