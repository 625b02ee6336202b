package cloudstore

import (
	"context"
	"net/url"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// AzureConfig holds Azure Key Vault authentication settings. Without a client secret or managed
// identity the default Azure credential chain is used.
type AzureConfig struct {
	TenantID           string `yaml:"tenant_id"`
	ClientID           string `yaml:"client_id"`
	ClientSecret       string `yaml:"client_secret"`
	UseManagedIdentity bool   `yaml:"use_managed_identity"`
	UserAssignedID     string `yaml:"user_assigned_identity_id"`
}

// Validate requires tenant_id and client_id whenever client_secret is set.
func (a AzureConfig) Validate() error {
	if a.ClientSecret != "" && (a.TenantID == "" || a.ClientID == "") {
		return errors.New("tenant_id and client_id are required with client_secret")
	}
	return nil
}

func (a AzureConfig) credential() (azcore.TokenCredential, error) {
	switch {
	case a.UseManagedIdentity && a.UserAssignedID != "":
		return azidentity.NewManagedIdentityCredential(&azidentity.ManagedIdentityCredentialOptions{
			ID: azidentity.ClientID(a.UserAssignedID),
		})
	case a.UseManagedIdentity:
		return azidentity.NewManagedIdentityCredential(nil)
	case a.ClientSecret != "":
		return azidentity.NewClientSecretCredential(a.TenantID, a.ClientID, a.ClientSecret, nil)
	default:
		return azidentity.NewDefaultAzureCredential(nil)
	}
}

// CreateClient creates a Key Vault secrets client for vaultURL.
func (a AzureConfig) CreateClient(vaultURL string) (*azsecrets.Client, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if u, err := url.Parse(vaultURL); err != nil || u.Scheme != "https" || u.Host == "" {
		return nil, errors.Errorf("invalid Key Vault URL %q, expected https://<vault>.vault.azure.net/", vaultURL)
	}
	cred, err := a.credential()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Azure credential")
	}
	client, err := azsecrets.NewClient(vaultURL, cred, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Key Vault client")
	}
	return client, nil
}

// KeyVaultAPI is the part of *azsecrets.Client used by AzureStore.
type KeyVaultAPI interface {
	SetSecret(ctx context.Context, name string, parameters azsecrets.SetSecretParameters, options *azsecrets.SetSecretOptions) (azsecrets.SetSecretResponse, error)
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
}

// AzureStore keeps the value in a Key Vault secret. Setting a secret that exists adds a version.
type AzureStore struct {
	client KeyVaultAPI
	name   string
}

// NewAzureStore creates a store for the secret name in the vault client is bound to.
func NewAzureStore(client KeyVaultAPI, name string) *AzureStore {
	return &AzureStore{client: client, name: name}
}

// Put sets a new version of the secret.
func (a *AzureStore) Put(ctx context.Context, value []byte) error {
	v := string(value)
	contentType := "application/json"
	_, err := a.client.SetSecret(ctx, a.name, azsecrets.SetSecretParameters{
		Value:       &v,
		ContentType: &contentType,
	}, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to set secret %q in Azure Key Vault", a.name)
	}
	log.Debug().Str("secret_name", a.name).Msg("Stored secret in Azure Key Vault")
	return nil
}

// Get returns the latest version of the secret.
func (a *AzureStore) Get(ctx context.Context) ([]byte, error) {
	resp, err := a.client.GetSecret(ctx, a.name, "", nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read secret %q from Azure Key Vault", a.name)
	}
	if resp.Value == nil {
		return nil, errors.Errorf("secret %q has no value", a.name)
	}
	return []byte(*resp.Value), nil
}

// Name describes the secret for logs.
func (a *AzureStore) Name() string {
	return "Azure Key Vault secret " + a.name
}
