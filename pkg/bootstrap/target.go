package bootstrap

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/animalet/sargantana-ksm/internal/secure"
	"github.com/animalet/sargantana-ksm/pkg/cloudstore"
	"github.com/animalet/sargantana-ksm/pkg/compliance"
	"github.com/animalet/sargantana-ksm/pkg/hsm"
	"github.com/animalet/sargantana-ksm/pkg/keystore"
	"github.com/animalet/sargantana-ksm/pkg/ksmerr"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Target is where the credentials are persisted. The set of variants is closed:
// RawFile, PlatformKeystore, CloudSecretStore, HsmSlot and OSKeyring.
type Target interface {
	Persist(ctx context.Context, creds Credentials) error
	Load(ctx context.Context) (Credentials, error)
	String() string
	target()
}

// RawFile writes the credentials as a plain JSON file. An existing file is never overwritten.
type RawFile struct {
	Path string
}

func (RawFile) target() {}

func (r RawFile) String() string { return "raw file " + r.Path }

// Persist writes the credentials JSON to a new file readable by the owner only. An existing
// file is never overwritten.
func (r RawFile) Persist(_ context.Context, creds Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return ksmerr.WrapConfig(err, "", "Failed to persist the RAW KSM config")
	}
	if dir := filepath.Dir(r.Path); dir != "" {
		if err = os.MkdirAll(dir, 0o700); err != nil {
			return ksmerr.WrapIO(err, "create directory", dir)
		}
	}
	// #nosec G304 -- the target path is operator configuration
	f, err := os.OpenFile(r.Path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return ksmerr.WrapIO(err, "create", r.Path)
	}
	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		return ksmerr.WrapIO(err, "write", r.Path)
	}
	if err = f.Close(); err != nil {
		return ksmerr.WrapIO(err, "close", r.Path)
	}
	return nil
}

// Load reads the credentials JSON back.
func (r RawFile) Load(_ context.Context) (Credentials, error) {
	// #nosec G304 -- the target path is operator configuration
	data, err := os.ReadFile(r.Path)
	if err != nil {
		return Credentials{}, ksmerr.WrapIO(err, "read", r.Path)
	}
	return parseLoaded(data, r.Path)
}

// PlatformKeystore stores the credentials JSON as a password-protected entry of a keystore
// file. Other entries of an existing keystore are kept.
type PlatformKeystore struct {
	Format   keystore.Format
	Path     string
	Alias    string
	Password *secure.Secret
}

func (PlatformKeystore) target() {}

func (p PlatformKeystore) String() string {
	return string(p.Format) + " keystore " + p.Path
}

// Persist stores the credentials JSON under Alias, creating the keystore when it does not exist.
func (p PlatformKeystore) Persist(_ context.Context, creds Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return ksmerr.WrapConfig(err, "", "Failed to persist the KSM config keystore")
	}
	err = p.Password.Use(func(password []byte) error {
		ks, err := keystore.Open(p.Path, p.Format, password)
		if err != nil {
			return err
		}
		if err = ks.SetSecret(p.Alias, data, password); err != nil {
			return err
		}
		return ks.Save(p.Path, password)
	})
	if err != nil {
		return ksmerr.WrapIO(err, "persist keystore", p.Path)
	}
	return nil
}

// Load opens the keystore with Password and reads the entry under Alias.
func (p PlatformKeystore) Load(_ context.Context) (Credentials, error) {
	var data []byte
	err := p.Password.Use(func(password []byte) error {
		// #nosec G304 -- the keystore path is operator configuration
		raw, err := os.ReadFile(p.Path)
		if err != nil {
			return err
		}
		ks, err := keystore.Parse(raw, p.Format, password)
		if err != nil {
			return err
		}
		data, err = ks.Secret(p.Alias, password)
		return err
	})
	if err != nil {
		return Credentials{}, ksmerr.WrapIO(err, "load keystore", p.Path)
	}
	return parseLoaded(data, p.Path)
}

// CloudSecretStore keeps the credentials JSON in a managed secret store. The client is
// created on first use and released once the store has been read or written.
type CloudSecretStore struct {
	Provider compliance.ProviderType
	Location string
	Connect  func(ctx context.Context) (cloudstore.Store, error)
}

func (CloudSecretStore) target() {}

func (c CloudSecretStore) String() string {
	return string(c.Provider) + " secret store " + c.Location
}

// Persist creates the secret or stores a new value.
func (c CloudSecretStore) Persist(ctx context.Context, creds Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return ksmerr.WrapConfig(err, "", "Failed to persist the KSM config")
	}
	store, err := c.Connect(ctx)
	if err != nil {
		return ksmerr.WrapConfig(err, "keeper.ksm.container_type", "failed to connect to "+string(c.Provider))
	}
	defer release(store)
	if err = store.Put(ctx, data); err != nil {
		return ksmerr.WrapIO(err, "persist to", store.Name())
	}
	return nil
}

// Load reads the current secret value.
func (c CloudSecretStore) Load(ctx context.Context) (Credentials, error) {
	store, err := c.Connect(ctx)
	if err != nil {
		return Credentials{}, ksmerr.WrapConfig(err, "keeper.ksm.container_type", "failed to connect to "+string(c.Provider))
	}
	defer release(store)
	data, err := store.Get(ctx)
	if err != nil {
		return Credentials{}, ksmerr.WrapIO(err, "load from", store.Name())
	}
	return parseLoaded(data, store.Name())
}

// release closes stores that own a client connection.
func release(store cloudstore.Store) {
	closer, ok := store.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		log.Warn().Err(err).Str("store", store.Name()).Msg("Failed to close secret store client")
	}
}

// HsmSlot keeps the credentials JSON as a data object in a PKCS#11 token. The library is
// loaded before anything else is touched.
type HsmSlot struct {
	Config  hsm.Config
	Options []hsm.Option
}

func (HsmSlot) target() {}

func (h HsmSlot) String() string {
	return "PKCS#11 token " + h.Config.Library
}

// Persist replaces the labelled data object in the slot token.
func (h HsmSlot) Persist(ctx context.Context, creds Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return ksmerr.WrapConfig(err, "", "Failed to persist the KSM config to the HSM")
	}
	store, err := hsm.Open(h.Config, h.Options...)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	if err = store.Put(ctx, data); err != nil {
		return ksmerr.WrapIO(err, "persist to", h.String())
	}
	return nil
}

// Load reads the labelled data object.
func (h HsmSlot) Load(ctx context.Context) (Credentials, error) {
	store, err := hsm.Open(h.Config, h.Options...)
	if err != nil {
		return Credentials{}, err
	}
	defer func() { _ = store.Close() }()
	data, err := store.Get(ctx)
	if err != nil {
		return Credentials{}, ksmerr.WrapIO(err, "load from", h.String())
	}
	return parseLoaded(data, h.String())
}

// OSKeyring keeps the credentials JSON in the operating system keyring.
type OSKeyring struct {
	Service string
	User    string
}

func (OSKeyring) target() {}

func (k OSKeyring) String() string { return "OS keyring " + k.Service + "/" + k.User }

// Persist sets the keyring entry.
func (k OSKeyring) Persist(ctx context.Context, creds Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return ksmerr.WrapConfig(err, "", "Failed to persist the KSM config to the OS keyring")
	}
	store := cloudstore.NewKeyringStore(k.Service, k.User)
	if err = store.Put(ctx, data); err != nil {
		return ksmerr.WrapIO(err, "persist to", store.Name())
	}
	return nil
}

// Load reads the keyring entry.
func (k OSKeyring) Load(ctx context.Context) (Credentials, error) {
	store := cloudstore.NewKeyringStore(k.Service, k.User)
	data, err := store.Get(ctx)
	if err != nil {
		return Credentials{}, ksmerr.WrapIO(err, "load from", store.Name())
	}
	return parseLoaded(data, store.Name())
}

func parseLoaded(data []byte, source string) (Credentials, error) {
	creds, err := ParseCredentials(data)
	if err != nil {
		return Credentials{}, ksmerr.WrapConfig(errors.Wrap(err, source), "", "failure loading KSM config")
	}
	return creds, nil
}
