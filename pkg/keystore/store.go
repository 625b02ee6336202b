package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/json"
	"hash"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/scrypt"
)

const containerVersion = 1

// ErrWrongPassword is returned when a keystore or entry does not authenticate.
var ErrWrongPassword = errors.New("keystore password is incorrect or the keystore is corrupted")

type suite struct {
	kdf  string
	aead string
	fips bool
	// pbkdf2
	hash       func() hash.Hash
	iterations int
	// scrypt
	n, r, p int
}

var suites = map[Format]suite{
	PKCS12: {kdf: "pbkdf2-sha256", aead: "aes-256-gcm", fips: true, hash: sha256.New, iterations: 310000},
	BCFKS:  {kdf: "pbkdf2-sha512", aead: "aes-256-gcm", fips: true, hash: sha512.New, iterations: 210000},
	BKS:    {kdf: "scrypt", aead: "xchacha20-poly1305", n: 1 << 15, r: 8, p: 1},
	JKS:    {kdf: "scrypt", aead: "xchacha20-poly1305", n: 1 << 15, r: 8, p: 1},
}

type kdfParams struct {
	Algorithm  string `json:"algorithm"`
	Salt       []byte `json:"salt"`
	Iterations int    `json:"iterations,omitempty"`
	N          int    `json:"n,omitempty"`
	R          int    `json:"r,omitempty"`
	P          int    `json:"p,omitempty"`
}

type entry struct {
	KDF        kdfParams `json:"kdf"`
	Cipher     string    `json:"cipher"`
	Nonce      []byte    `json:"nonce"`
	Ciphertext []byte    `json:"ciphertext"`
	Created    time.Time `json:"created"`
}

type body struct {
	Format  Format           `json:"format"`
	Version int              `json:"version"`
	Entries map[string]entry `json:"entries"`
}

type container struct {
	body
	MACKDF kdfParams `json:"mac_kdf"`
	MAC    []byte    `json:"mac"`
}

// Keystore is an in-memory, password-protected secret-entry container. Its serialized form is
// specific to this package and is not interoperable with JCA keystores.
type Keystore struct {
	format  Format
	entries map[string]entry
}

// New creates an empty keystore.
func New(format Format) (*Keystore, error) {
	if _, ok := suites[format]; !ok {
		return nil, errors.Errorf("keystore format %s cannot be stored in a file", format)
	}
	return &Keystore{format: format, entries: make(map[string]entry)}, nil
}

// Open loads the keystore at path, or returns an empty one when the file does not exist.
func Open(path string, format Format, password []byte) (*Keystore, error) {
	// #nosec G304 -- the keystore location is operator configuration
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return New(format)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read keystore %q", path)
	}
	return Parse(data, format, password)
}

// Parse decodes a serialized keystore and verifies its integrity with password.
func Parse(data []byte, format Format, password []byte) (*Keystore, error) {
	var c container
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(err, "keystore is not a valid container")
	}
	if c.Version != containerVersion {
		return nil, errors.Errorf("unsupported keystore version %d", c.Version)
	}
	if c.Format != format {
		return nil, errors.Errorf("keystore is %s, expected %s", c.Format, format)
	}
	mac, err := computeMAC(c.body, c.MACKDF, password)
	if err != nil {
		return nil, err
	}
	if !hmac.Equal(mac, c.MAC) {
		return nil, ErrWrongPassword
	}
	if c.Entries == nil {
		c.Entries = make(map[string]entry)
	}
	return &Keystore{format: format, entries: c.Entries}, nil
}

// Format returns the container format.
func (k *Keystore) Format() Format { return k.format }

// Aliases returns the entry aliases in sorted order.
func (k *Keystore) Aliases() []string {
	aliases := make([]string, 0, len(k.entries))
	for a := range k.entries {
		aliases = append(aliases, a)
	}
	sort.Strings(aliases)
	return aliases
}

// SetSecret stores value under alias, replacing any previous entry.
func (k *Keystore) SetSecret(alias string, value, password []byte) error {
	if alias == "" {
		return errors.New("keystore alias must not be empty")
	}
	s := suites[k.format]
	params, err := newParams(s)
	if err != nil {
		return err
	}
	aead, err := newAEAD(s, params, password)
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err = rand.Read(nonce); err != nil {
		return errors.Wrap(err, "failed to generate nonce")
	}
	k.entries[alias] = entry{
		KDF:        params,
		Cipher:     s.aead,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, value, []byte(alias)),
		Created:    time.Now().UTC(),
	}
	return nil
}

// Secret decrypts the entry stored under alias.
func (k *Keystore) Secret(alias string, password []byte) ([]byte, error) {
	e, ok := k.entries[alias]
	if !ok {
		return nil, errors.Errorf("no keystore entry under alias %q", alias)
	}
	aead, err := newAEAD(suites[k.format], e.KDF, password)
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, e.Nonce, e.Ciphertext, []byte(alias))
	if err != nil {
		return nil, ErrWrongPassword
	}
	return plain, nil
}

// Marshal serializes the keystore, sealing its integrity with password.
func (k *Keystore) Marshal(password []byte) ([]byte, error) {
	s := suites[k.format]
	params, err := newParams(s)
	if err != nil {
		return nil, err
	}
	b := body{Format: k.format, Version: containerVersion, Entries: k.entries}
	mac, err := computeMAC(b, params, password)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(container{body: b, MACKDF: params, MAC: mac}, "", "  ")
}

// Save writes the keystore to path, replacing the file atomically.
func (k *Keystore) Save(path string, password []byte) error {
	data, err := k.Marshal(password)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err = os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrapf(err, "failed to create keystore directory %q", dir)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "failed to create temporary keystore file")
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "failed to write keystore")
	}
	if err = tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "failed to restrict keystore permissions")
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close keystore")
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, "failed to replace keystore %q", path)
	}
	return nil
}

func newParams(s suite) (kdfParams, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return kdfParams{}, errors.Wrap(err, "failed to generate salt")
	}
	return kdfParams{Algorithm: s.kdf, Salt: salt, Iterations: s.iterations, N: s.n, R: s.r, P: s.p}, nil
}

func deriveKey(params kdfParams, password []byte, size int) ([]byte, error) {
	switch params.Algorithm {
	case "pbkdf2-sha256":
		return pbkdf2.Key(password, params.Salt, params.Iterations, size, sha256.New), nil
	case "pbkdf2-sha512":
		return pbkdf2.Key(password, params.Salt, params.Iterations, size, sha512.New), nil
	case "scrypt":
		key, err := scrypt.Key(password, params.Salt, params.N, params.R, params.P, size)
		return key, errors.Wrap(err, "scrypt key derivation failed")
	}
	return nil, errors.Errorf("unsupported key derivation %q", params.Algorithm)
}

func newAEAD(s suite, params kdfParams, password []byte) (cipher.AEAD, error) {
	key, err := deriveKey(params, password, 32)
	if err != nil {
		return nil, err
	}
	defer wipe(key)
	if s.aead == "xchacha20-poly1305" {
		return chacha20poly1305.NewX(key)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create AES cipher")
	}
	return cipher.NewGCM(block)
}

func computeMAC(b body, params kdfParams, password []byte) ([]byte, error) {
	payload, err := json.Marshal(b)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode keystore entries")
	}
	key, err := deriveKey(params, password, 32)
	if err != nil {
		return nil, err
	}
	defer wipe(key)
	m := hmac.New(sha256.New, key)
	m.Write(payload)
	return m.Sum(nil), nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
