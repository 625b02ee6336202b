package secrets

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// FileSecretConfig configures the file resolver.
type FileSecretConfig struct {
	// SecretsDir is the directory secrets are mounted into.
	SecretsDir string `yaml:"secrets_dir"`
}

// Validate requires SecretsDir to name an existing directory.
func (f FileSecretConfig) Validate() error {
	if f.SecretsDir == "" {
		return errors.New("secrets_dir is required for file resolver")
	}
	info, err := os.Stat(f.SecretsDir)
	switch {
	case os.IsNotExist(err):
		return errors.Errorf("secrets_dir %q does not exist", f.SecretsDir)
	case err != nil:
		return errors.Wrapf(err, "error accessing secrets_dir %q", f.SecretsDir)
	case !info.IsDir():
		return errors.Errorf("secrets_dir %q is not a directory", f.SecretsDir)
	}
	return nil
}

// CreateClient validates the configuration and returns a FileSecretLoader over SecretsDir.
func (f FileSecretConfig) CreateClient() (*FileSecretLoader, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return NewFileSecretLoader(f.SecretsDir), nil
}

// FileSecretLoader reads secrets mounted as files, as Docker and Kubernetes do. A key names a
// file relative to the secrets directory; "#member" selects a string member of a JSON file,
// such as a KSM configuration mounted as a whole:
//
//	secret_password: ${file:keystore_password}
//	secret_user: ${file:ksm-config.json#clientId}
//
// Plain file contents are trimmed of surrounding whitespace.
type FileSecretLoader struct {
	secretsDir string
}

// NewFileSecretLoader creates a loader reading from secretsDir.
func NewFileSecretLoader(secretsDir string) *FileSecretLoader {
	return &FileSecretLoader{secretsDir: secretsDir}
}

// Resolve reads the file key names, or a member of it.
func (f *FileSecretLoader) Resolve(key string) (string, error) {
	name, member, _ := strings.Cut(key, "#")
	path, err := f.secretPath(name)
	if err != nil {
		return "", err
	}

	// #nosec G304 -- secretPath confines the path to the secrets directory
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", errors.New("secret not found")
	}
	if err != nil {
		return "", errors.New("failed to read secret")
	}
	log.Debug().Str("file", path).Str("member", member).Msg("Retrieved secret from file")

	if member == "" {
		return strings.TrimSpace(string(content)), nil
	}
	var doc map[string]any
	if err = json.Unmarshal(content, &doc); err != nil {
		return "", errors.Errorf("secret file %q is not a JSON object", name)
	}
	value, ok := doc[member].(string)
	if !ok {
		return "", errors.Errorf("member %q not found in secret file %q", member, name)
	}
	return value, nil
}

// secretPath resolves name inside the secrets directory, rejecting absolute paths and any path
// that escapes it.
func (f *FileSecretLoader) secretPath(name string) (string, error) {
	if f.secretsDir == "" {
		return "", errors.New("no secrets directory configured")
	}
	if name == "" {
		return "", errors.New("no file specified for file secret")
	}
	if filepath.IsAbs(name) {
		return "", errors.New("invalid secret key: absolute paths not allowed")
	}
	dir, err := filepath.Abs(f.secretsDir)
	if err != nil {
		return "", errors.Wrap(err, "failed to resolve secrets directory")
	}
	path := filepath.Join(dir, filepath.Clean(name))
	if !strings.HasPrefix(path, dir+string(filepath.Separator)) {
		return "", errors.New("invalid secret key: outside secrets directory")
	}
	return path, nil
}

// Name returns "File".
func (f *FileSecretLoader) Name() string {
	return "File"
}
