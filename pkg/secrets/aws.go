package secrets

import (
	"context"
	"encoding/json"

	"github.com/animalet/sargantana-ksm/pkg/cloudstore"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// AWSConfig configures the aws resolver: the connection plus the secret it reads from.
type AWSConfig struct {
	cloudstore.AWSConfig `yaml:",inline"`
	SecretName           string `yaml:"secret_name"`
}

// Validate checks the AWS client settings and requires a secret name.
func (a AWSConfig) Validate() error {
	if err := a.AWSConfig.Validate(); err != nil {
		return err
	}
	if a.SecretName == "" {
		return errors.New("AWS secret name is required")
	}
	return nil
}

// CreateClient creates an AWSSecretLoader for SecretName.
func (a AWSConfig) CreateClient() (*AWSSecretLoader, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	client, err := a.AWSConfig.CreateClient()
	if err != nil {
		return nil, err
	}
	return NewAWSSecretLoader(client, a.SecretName), nil
}

// SecretValueGetter is the part of the Secrets Manager client the resolver uses.
type SecretValueGetter interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSecretLoader reads a key of a JSON secret, or the whole value of a plain text secret.
//
//	secret_password: ${aws:KEYSTORE_PASSWORD}
type AWSSecretLoader struct {
	client     SecretValueGetter
	secretName string
}

// NewAWSSecretLoader creates a loader reading secretName through client.
func NewAWSSecretLoader(client SecretValueGetter, secretName string) *AWSSecretLoader {
	return &AWSSecretLoader{client: client, secretName: secretName}
}

// Resolve returns key from the JSON secret, or the whole secret when it is not JSON.
func (a *AWSSecretLoader) Resolve(key string) (string, error) {
	result, err := a.client.GetSecretValue(context.Background(), &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(a.secretName),
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to read secret from AWS Secrets Manager: %q", a.secretName)
	}
	if result.SecretString == nil {
		return "", errors.Errorf("secret %q has no string value", a.secretName)
	}

	var data map[string]any
	if err = json.Unmarshal([]byte(*result.SecretString), &data); err != nil {
		log.Debug().Str("secret_name", a.secretName).Msg("Retrieved plain text secret from AWS Secrets Manager")
		return *result.SecretString, nil
	}
	value, ok := data[key].(string)
	if !ok {
		return "", errors.Errorf("key %q not found in AWS secret %q", key, a.secretName)
	}
	log.Debug().Str("secret_name", a.secretName).Str("key", key).Msg("Retrieved secret from AWS Secrets Manager")
	return value, nil
}

// Name returns "AWS Secrets Manager".
func (a *AWSSecretLoader) Name() string {
	return "AWS Secrets Manager"
}
