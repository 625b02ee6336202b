// Package ksmtest provides an in-memory SecretsManager for tests.
package ksmtest

import (
	"context"
	"sync"

	"github.com/animalet/sargantana-ksm/pkg/ksm"
	"github.com/pkg/errors"
)

// Fake is a scripted SecretsManager. Redeeming a token fills the storage with Credentials;
// a token can be redeemed once.
type Fake struct {
	mu sync.Mutex

	Records     []ksm.Record
	Folders     []ksm.Folder
	Credentials map[string]string
	CanConsume  bool

	// Failures injected per call.
	InitErr    error
	GetErr     error
	FoldersErr error

	redeemed     map[string]bool
	pending      map[ksm.KeyValueStorage]string
	GetCalls     [][]string
	FolderCalls  int
	ConsumeCalls int
}

// NewFake returns a Fake that hands out DefaultCredentials on redemption.
func NewFake() *Fake {
	return &Fake{Credentials: DefaultCredentials()}
}

// DefaultCredentials returns a complete set of bootstrap credentials.
func DefaultCredentials() map[string]string {
	return map[string]string{
		ksm.KeyHostname:          "keepersecurity.com",
		ksm.KeyClientID:          "client-id",
		ksm.KeyPrivateKey:        "private-key",
		ksm.KeyClientKey:         "client-key",
		ksm.KeyAppKey:            "app-key",
		ksm.KeyOwnerPublicKey:    "owner-public-key",
		ksm.KeyPublicKey:         "public-key",
		ksm.KeyServerPublicKeyID: "10",
	}
}

// InitializeStorage holds token as pending for storage, or returns InitErr.
func (f *Fake) InitializeStorage(_ context.Context, storage ksm.KeyValueStorage, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.InitErr != nil {
		return f.InitErr
	}
	if f.pending == nil {
		f.pending = make(map[ksm.KeyValueStorage]string)
	}
	f.pending[storage] = token
	storage.SaveString(ksm.KeyClientKey, token)
	return nil
}

// GetSecrets records the call and returns the records whose UID is in uids, or all of them.
// The first call with a storage holding a pending token writes Credentials into it; a token
// that was already redeemed fails.
func (f *Fake) GetSecrets(_ context.Context, opts ksm.Options, uids []string) (*ksm.Secrets, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.GetCalls = append(f.GetCalls, append([]string(nil), uids...))
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	if err := f.redeem(opts.Storage); err != nil {
		return nil, err
	}
	if len(uids) == 0 {
		return &ksm.Secrets{Records: append([]ksm.Record(nil), f.Records...)}, nil
	}
	var out []ksm.Record
	for _, uid := range uids {
		for _, r := range f.Records {
			if r.UID == uid {
				out = append(out, r)
			}
		}
	}
	return &ksm.Secrets{Records: out}, nil
}

// GetFolders returns Folders, or FoldersErr.
func (f *Fake) GetFolders(_ context.Context, opts ksm.Options) ([]ksm.Folder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FolderCalls++
	if f.FoldersErr != nil {
		return nil, f.FoldersErr
	}
	if err := f.redeem(opts.Storage); err != nil {
		return nil, err
	}
	return append([]ksm.Folder(nil), f.Folders...), nil
}

// ConsumeToken redeems a pending token like GetSecrets does, without reading records. It fails
// unless CanConsume is set.
func (f *Fake) ConsumeToken(_ context.Context, opts ksm.Options) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ConsumeCalls++
	if !f.CanConsume {
		return errors.New("token consumption is not supported")
	}
	return f.redeem(opts.Storage)
}

// Capabilities advertises ConsumeToken when CanConsume is set.
func (f *Fake) Capabilities() ksm.Capabilities {
	return ksm.Capabilities{ConsumeToken: f.CanConsume}
}

func (f *Fake) redeem(storage ksm.KeyValueStorage) error {
	if storage == nil {
		return nil
	}
	token, ok := f.pending[storage]
	if !ok {
		return nil
	}
	delete(f.pending, storage)
	if f.redeemed == nil {
		f.redeemed = make(map[string]bool)
	}
	if f.redeemed[token] {
		return errors.Errorf("one-time token %q has already been used", token)
	}
	f.redeemed[token] = true
	for k, v := range f.Credentials {
		storage.SaveString(k, v)
	}
	return nil
}

// Connector wraps a SecretsManager for ksm.Register.
type Connector struct {
	SM  ksm.SecretsManager
	Err error
}

// Connect returns SM, or Err.
func (c Connector) Connect(context.Context) (ksm.SecretsManager, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	return c.SM, nil
}

// Name returns "fake".
func (c Connector) Name() string { return "fake" }

// Record builds a record with the given standard fields.
func Record(uid, folderUID, title, recordType string, fields ...ksm.Field) ksm.Record {
	return ksm.Record{
		UID:       uid,
		FolderUID: folderUID,
		Data: ksm.RecordData{
			Title:  title,
			Type:   recordType,
			Fields: fields,
		},
	}
}

// StringField builds a field with string values.
func StringField(fieldType, label string, values ...string) ksm.Field {
	v := make([]any, len(values))
	for i, s := range values {
		v[i] = s
	}
	return ksm.Field{Type: fieldType, Label: label, Value: v}
}
