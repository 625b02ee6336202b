// Package keeper adapts the Keeper Secrets Manager Go SDK to ksm.SecretsManager. Importing it
// registers the adapter as the "keeper" connector.
package keeper

import (
	"context"
	"fmt"
	"sync"

	"github.com/animalet/sargantana-ksm/pkg/ksm"
	"github.com/keeper-security/secrets-manager-go/core"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ConnectorName is the name the adapter registers under.
const ConnectorName = "keeper"

func init() {
	ksm.Register(ConnectorName, Connector{})
}

// Client is the part of *core.SecretsManager the adapter calls.
type Client interface {
	GetSecrets(uids []string) ([]*core.Record, error)
	GetFolders() ([]*core.KeeperFolder, error)
}

// Factory builds an SDK client.
type Factory func(options *core.ClientOptions) Client

func newSDKClient(options *core.ClientOptions) Client {
	return core.NewSecretsManager(options)
}

// Connector creates SecretsManager adapters. The zero value uses the real SDK.
type Connector struct {
	Factory Factory
}

// Connect returns a new adapter.
func (c Connector) Connect(context.Context) (ksm.SecretsManager, error) {
	return New(c.Factory), nil
}

// Name returns ConnectorName.
func (c Connector) Name() string { return ConnectorName }

// SecretsManager implements ksm.SecretsManager over the SDK. One SDK client is kept per
// storage; the client bound to a one-time token is reused for the read that redeems it.
//
// SDK calls cannot be cancelled: ctx is only checked before each call.
type SecretsManager struct {
	factory Factory

	mu      sync.Mutex
	clients map[ksm.KeyValueStorage]Client
}

// New creates an adapter building SDK clients with factory, the real SDK when nil.
func New(factory Factory) *SecretsManager {
	if factory == nil {
		factory = newSDKClient
	}
	return &SecretsManager{factory: factory, clients: make(map[ksm.KeyValueStorage]Client)}
}

// InitializeStorage creates an SDK client holding token over storage. The token is exchanged
// by the client's first read, which writes the application credentials into storage.
func (s *SecretsManager) InitializeStorage(ctx context.Context, storage ksm.KeyValueStorage, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if storage == nil {
		return errors.New("KSM storage is required")
	}
	if token == "" {
		return errors.New("one-time token is empty")
	}
	client := s.factory(&core.ClientOptions{Token: token, Config: NewStorage(storage)})
	s.mu.Lock()
	s.clients[storage] = client
	s.mu.Unlock()
	log.Debug().Msg("Bound KSM one-time token to storage")
	return nil
}

// GetSecrets reads the records with the given UIDs, every shared record when uids is empty.
func (s *SecretsManager) GetSecrets(ctx context.Context, opts ksm.Options, uids []string) (*ksm.Secrets, error) {
	client, err := s.client(ctx, opts)
	if err != nil {
		return nil, err
	}
	records, err := client.GetSecrets(uids)
	if err != nil {
		return nil, errors.Wrap(err, "KSM GetSecrets failed")
	}
	out := &ksm.Secrets{Records: make([]ksm.Record, 0, len(records))}
	for _, r := range records {
		if r != nil {
			out.Records = append(out.Records, convertRecord(r))
		}
	}
	return out, nil
}

// GetFolders lists the folders shared with the application.
func (s *SecretsManager) GetFolders(ctx context.Context, opts ksm.Options) ([]ksm.Folder, error) {
	client, err := s.client(ctx, opts)
	if err != nil {
		return nil, err
	}
	folders, err := client.GetFolders()
	if err != nil {
		return nil, errors.Wrap(err, "KSM GetFolders failed")
	}
	out := make([]ksm.Folder, 0, len(folders))
	for _, f := range folders {
		if f != nil {
			out = append(out, ksm.Folder{UID: f.FolderUid, ParentUID: f.ParentUid, Name: f.Name})
		}
	}
	return out, nil
}

// ConsumeToken is not offered by the Go SDK; tokens are redeemed by the first read.
func (s *SecretsManager) ConsumeToken(context.Context, ksm.Options) error {
	return errors.New("the Keeper Go SDK cannot redeem a token without a read")
}

// Capabilities reports no optional features.
func (s *SecretsManager) Capabilities() ksm.Capabilities {
	return ksm.Capabilities{}
}

func (s *SecretsManager) client(ctx context.Context, opts ksm.Options) (Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Storage == nil {
		return nil, errors.New("KSM options carry no credential storage")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	client, ok := s.clients[opts.Storage]
	if !ok {
		client = s.factory(&core.ClientOptions{Config: NewStorage(opts.Storage)})
		s.clients[opts.Storage] = client
	}
	return client, nil
}

func convertRecord(r *core.Record) ksm.Record {
	return ksm.Record{
		UID:       r.Uid,
		FolderUID: r.FolderUid(),
		Data: ksm.RecordData{
			Title:  stringValue(r.RecordDict["title"]),
			Type:   stringValue(r.RecordDict["type"]),
			Notes:  stringValue(r.RecordDict["notes"]),
			Fields: convertFields(r.RecordDict["fields"]),
			Custom: convertFields(r.RecordDict["custom"]),
		},
	}
}

func convertFields(raw any) []ksm.Field {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	fields := make([]ksm.Field, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		f := ksm.Field{Type: stringValue(m["type"]), Label: stringValue(m["label"])}
		switch v := m["value"].(type) {
		case []any:
			f.Value = v
		case nil:
		default:
			f.Value = []any{v}
		}
		fields = append(fields, f)
	}
	return fields
}

func stringValue(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}
