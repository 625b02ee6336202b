package cloudstore

import (
	"context"
	"io"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GoogleConfig holds Google Secret Manager client settings. Without a credentials file
// Application Default Credentials are used.
type GoogleConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	Endpoint        string `yaml:"endpoint"`
}

// Validate accepts any configuration; missing credentials fall back to ADC.
func (g GoogleConfig) Validate() error { return nil }

// CreateClient creates a Secret Manager client.
func (g GoogleConfig) CreateClient(ctx context.Context) (*secretmanager.Client, error) {
	var opts []option.ClientOption
	if g.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(g.CredentialsFile))
	}
	if g.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.Endpoint))
	}
	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Google Secret Manager client")
	}
	return client, nil
}

// SecretManagerAPI is the part of *secretmanager.Client used by GoogleStore.
type SecretManagerAPI interface {
	CreateSecret(ctx context.Context, req *secretmanagerpb.CreateSecretRequest, opts ...gax.CallOption) (*secretmanagerpb.Secret, error)
	AddSecretVersion(ctx context.Context, req *secretmanagerpb.AddSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.SecretVersion, error)
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
}

// SecretName is a fully qualified secret: projects/<project>/secrets/<secret>.
type SecretName struct {
	Project string
	Secret  string
}

// ParseSecretName parses projects/<project>/secrets/<secret>.
func ParseSecretName(name string) (SecretName, error) {
	parts := strings.Split(strings.Trim(name, "/"), "/")
	if len(parts) != 4 || parts[0] != "projects" || parts[2] != "secrets" || parts[1] == "" || parts[3] == "" {
		return SecretName{}, errors.Errorf("invalid secret name %q, expected projects/<project>/secrets/<secret>", name)
	}
	return SecretName{Project: parts[1], Secret: parts[3]}, nil
}

// String returns the fully qualified secret name.
func (s SecretName) String() string {
	return "projects/" + s.Project + "/secrets/" + s.Secret
}

// GoogleStore keeps the value as the latest version of a Secret Manager secret.
type GoogleStore struct {
	client SecretManagerAPI
	name   SecretName
	closer io.Closer
}

// ClosableSecretManager is a SecretManagerAPI that holds a connection, like *secretmanager.Client.
type ClosableSecretManager interface {
	SecretManagerAPI
	io.Closer
}

// NewGoogleStore creates a store for name over client. The caller keeps ownership of client.
func NewGoogleStore(client SecretManagerAPI, name SecretName) *GoogleStore {
	return &GoogleStore{client: client, name: name}
}

// NewOwningGoogleStore creates a store for name that closes client on Close.
func NewOwningGoogleStore(client ClosableSecretManager, name SecretName) *GoogleStore {
	return &GoogleStore{client: client, name: name, closer: client}
}

// Close closes the client when the store owns it. It is safe to call more than once.
func (g *GoogleStore) Close() error {
	if g.closer == nil {
		return nil
	}
	closer := g.closer
	g.closer = nil
	return errors.Wrap(closer.Close(), "failed to close Google Secret Manager client")
}

// Put creates the secret when missing and adds the value as a new version.
func (g *GoogleStore) Put(ctx context.Context, value []byte) error {
	_, err := g.client.CreateSecret(ctx, &secretmanagerpb.CreateSecretRequest{
		Parent:   "projects/" + g.name.Project,
		SecretId: g.name.Secret,
		Secret: &secretmanagerpb.Secret{
			Replication: &secretmanagerpb.Replication{
				Replication: &secretmanagerpb.Replication_Automatic_{
					Automatic: &secretmanagerpb.Replication_Automatic{},
				},
			},
		},
	})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return errors.Wrapf(err, "failed to create secret %q in Google Secret Manager", g.name)
	}

	_, err = g.client.AddSecretVersion(ctx, &secretmanagerpb.AddSecretVersionRequest{
		Parent:  g.name.String(),
		Payload: &secretmanagerpb.SecretPayload{Data: value},
	})
	if err != nil {
		return errors.Wrapf(err, "failed to add a version to secret %q in Google Secret Manager", g.name)
	}
	log.Debug().Str("secret_name", g.name.String()).Msg("Stored secret version in Google Secret Manager")
	return nil
}

// Get returns the payload of the latest secret version.
func (g *GoogleStore) Get(ctx context.Context) ([]byte, error) {
	resp, err := g.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: g.name.String() + "/versions/latest",
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to access secret %q in Google Secret Manager", g.name)
	}
	if resp.GetPayload() == nil {
		return nil, errors.Errorf("secret %q has no payload", g.name)
	}
	return resp.GetPayload().GetData(), nil
}

// Name describes the secret for logs.
func (g *GoogleStore) Name() string {
	return "Google Secret Manager secret " + g.name.String()
}
