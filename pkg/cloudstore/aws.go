package cloudstore

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// AWSConfig holds configuration for AWS Secrets Manager
type AWSConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Endpoint        string `yaml:"endpoint"` // Optional: for LocalStack or custom endpoints
}

// Validate checks if the AWSConfig has all required fields set
func (a AWSConfig) Validate() error {
	if a.Region == "" {
		return errors.New("AWS region is required")
	}
	if (a.AccessKeyID == "") != (a.SecretAccessKey == "") {
		return errors.New("access_key_id and secret_access_key must be set together")
	}
	return nil
}

// CreateClient creates and configures an AWS Secrets Manager client from this config.
// Without static credentials the default credential chain (IAM role, env vars, etc.) is used.
func (a AWSConfig) CreateClient() (*secretsmanager.Client, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	configOpts := []func(*config.LoadOptions) error{
		config.WithRegion(a.Region),
	}
	if a.Endpoint != "" {
		configOpts = append(configOpts, config.WithBaseEndpoint(a.Endpoint))
	}
	if a.AccessKeyID != "" && a.SecretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(a.AccessKeyID, a.SecretAccessKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(context.Background(), configOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load AWS configuration")
	}
	return secretsmanager.NewFromConfig(cfg), nil
}

// SecretsManagerAPI is the part of *secretsmanager.Client used by AWSStore.
type SecretsManagerAPI interface {
	CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSStore keeps the value in an AWS Secrets Manager secret.
type AWSStore struct {
	client   SecretsManagerAPI
	secretID string
}

// NewAWSStore creates a store for the secret named secretID.
func NewAWSStore(client SecretsManagerAPI, secretID string) *AWSStore {
	return &AWSStore{client: client, secretID: secretID}
}

// Put creates the secret; when it already exists a new version is written instead.
func (a *AWSStore) Put(ctx context.Context, value []byte) error {
	_, err := a.client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
		Name:         aws.String(a.secretID),
		SecretString: aws.String(string(value)),
		Description:  aws.String("Keeper Secrets Manager application configuration"),
	})
	if err == nil {
		log.Debug().Str("secret_name", a.secretID).Msg("Created secret in AWS Secrets Manager")
		return nil
	}

	var exists *types.ResourceExistsException
	if !errors.As(err, &exists) {
		return errors.Wrapf(err, "failed to create secret %q in AWS Secrets Manager", a.secretID)
	}
	_, err = a.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(a.secretID),
		SecretString: aws.String(string(value)),
	})
	if err != nil {
		return errors.Wrapf(err, "failed to update secret %q in AWS Secrets Manager", a.secretID)
	}
	log.Debug().Str("secret_name", a.secretID).Msg("Updated existing secret in AWS Secrets Manager")
	return nil
}

// Get returns the current secret string, or the binary value when no string is set.
func (a *AWSStore) Get(ctx context.Context) ([]byte, error) {
	result, err := a.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(a.secretID),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read secret from AWS Secrets Manager: %q", a.secretID)
	}
	if result.SecretString != nil {
		return []byte(*result.SecretString), nil
	}
	if result.SecretBinary != nil {
		return result.SecretBinary, nil
	}
	return nil, errors.Errorf("secret %q has no value", a.secretID)
}

// Name describes the secret for logs.
func (a *AWSStore) Name() string {
	return "AWS Secrets Manager secret " + a.secretID
}
