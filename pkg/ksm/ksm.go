// Package ksm is the boundary with the Keeper Secrets Manager SDK.
//
// The SDK itself is not linked here. Connectors that adapt an SDK client to SecretsManager
// register themselves, the same way database/sql drivers do; package keeper registers the
// Keeper Go SDK. The rest of the module only talks to these types.
package ksm

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Bootstrap keys written into KeyValueStorage when a one-time token is redeemed.
const (
	KeyHostname          = "hostname"
	KeyClientID          = "clientId"
	KeyPrivateKey        = "privateKey"
	KeyClientKey         = "clientKey"
	KeyAppKey            = "appKey"
	KeyOwnerPublicKey    = "appOwnerPublicKey"
	KeyPublicKey         = "publicKey"
	KeyServerPublicKeyID = "serverPublicKeyId"
)

// BootstrapKeys lists the credential keys in their canonical order.
var BootstrapKeys = []string{
	KeyHostname,
	KeyClientID,
	KeyPrivateKey,
	KeyClientKey,
	KeyAppKey,
	KeyOwnerPublicKey,
	KeyPublicKey,
	KeyServerPublicKeyID,
}

// Field is a single typed field of a record. Value holds every value the SDK reported for it.
type Field struct {
	Type  string
	Label string
	Value []any
}

// RecordData is the decrypted body of a record.
type RecordData struct {
	Title  string
	Type   string
	Notes  string
	Fields []Field
	Custom []Field
}

// Record is a vault record as seen by an application.
type Record struct {
	UID       string
	FolderUID string
	Data      RecordData
}

// Folder is a shared folder or subfolder visible to the application.
type Folder struct {
	UID       string
	ParentUID string
	Name      string
}

// Secrets is the result of a GetSecrets call.
type Secrets struct {
	Records []Record
}

// Options carries the storage that holds the application credentials.
type Options struct {
	Storage KeyValueStorage
}

// Capabilities describes optional SDK features, decided when the connector is built.
type Capabilities struct {
	// ConsumeToken is set when the SDK can redeem a one-time token without a read.
	ConsumeToken bool
}

// SecretsManager is the subset of the KSM SDK the integration needs.
type SecretsManager interface {
	// InitializeStorage binds a one-time token to storage. The token is redeemed on first use.
	InitializeStorage(ctx context.Context, storage KeyValueStorage, token string) error
	// GetSecrets fetches records by UID. An empty uids slice fetches every shared record.
	GetSecrets(ctx context.Context, opts Options, uids []string) (*Secrets, error)
	// GetFolders lists the folders shared with the application.
	GetFolders(ctx context.Context, opts Options) ([]Folder, error)
	// ConsumeToken redeems the token bound to storage. Only valid when Capabilities().ConsumeToken.
	ConsumeToken(ctx context.Context, opts Options) error
	Capabilities() Capabilities
}

// Connector builds a SecretsManager for a host SDK adapter.
type Connector interface {
	Connect(ctx context.Context) (SecretsManager, error)
	Name() string
}

var (
	connectorsMu sync.RWMutex
	connectors   = make(map[string]Connector)
)

// Register makes a connector available under name. Registering the same name twice replaces
// the previous connector and logs a warning.
func Register(name string, c Connector) {
	if c == nil {
		panic("ksm: Register connector is nil")
	}
	connectorsMu.Lock()
	defer connectorsMu.Unlock()
	if _, exists := connectors[name]; exists {
		log.Warn().Str("connector", name).Msg("Overriding existing KSM connector")
	}
	connectors[name] = c
}

// Unregister removes the connector registered under name.
func Unregister(name string) {
	connectorsMu.Lock()
	defer connectorsMu.Unlock()
	delete(connectors, name)
}

// Open connects through the connector registered under name.
func Open(ctx context.Context, name string) (SecretsManager, error) {
	connectorsMu.RLock()
	c, ok := connectors[name]
	connectorsMu.RUnlock()
	if !ok {
		return nil, errors.Errorf("no KSM connector registered under %q (registered: %v)", name, Connectors())
	}
	sm, err := c.Connect(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect using KSM connector %q", name)
	}
	return sm, nil
}

// Connectors returns the sorted names of the registered connectors.
func Connectors() []string {
	connectorsMu.RLock()
	defer connectorsMu.RUnlock()
	names := make([]string, 0, len(connectors))
	for name := range connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
