//go:build unit

package secrets

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/animalet/sargantana-ksm/pkg/cloudstore"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/hashicorp/vault/api"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
)

func TestSecrets(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Secrets Suite")
}

type fakeSecretValues struct {
	value *string
	err   error
}

func (f fakeSecretValues) GetSecretValue(context.Context, *secretsmanager.GetSecretValueInput, ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: f.value}, nil
}

type fakeLogical struct {
	secret *api.Secret
}

func (f fakeLogical) Read(string) (*api.Secret, error) {
	return f.secret, nil
}

type staticProperties map[string]string

func (s staticProperties) Get(key string) (string, bool) {
	v, ok := s[key]
	return v, ok
}

func (s staticProperties) Name() string { return "keeperKsm" }

func ptr(s string) *string { return &s }

var _ = Describe("FileSecretLoader", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		Expect(os.WriteFile(filepath.Join(dir, "keystore_password"), []byte("  s3cret\n"), 0o600)).To(Succeed())
	})

	It("reads and trims a secret file", func() {
		loader, err := FileSecretConfig{SecretsDir: dir}.CreateClient()
		Expect(err).NotTo(HaveOccurred())
		Expect(loader.Resolve("keystore_password")).To(Equal("s3cret"))
	})

	It("stays inside the secrets directory", func() {
		loader := NewFileSecretLoader(dir)
		_, err := loader.Resolve("../etc/passwd")
		Expect(err).To(MatchError(ContainSubstring("outside secrets directory")))
		_, err = loader.Resolve("/etc/passwd")
		Expect(err).To(MatchError(ContainSubstring("absolute paths not allowed")))
	})

	It("reports missing secrets", func() {
		_, err := NewFileSecretLoader(dir).Resolve("nope")
		Expect(err).To(MatchError("secret not found"))
	})

	It("reads a member of a mounted JSON file", func() {
		Expect(os.WriteFile(filepath.Join(dir, "ksm-config.json"), []byte(`{"clientId":"abc","slot":1}`), 0o600)).To(Succeed())
		loader := NewFileSecretLoader(dir)
		Expect(loader.Resolve("ksm-config.json#clientId")).To(Equal("abc"))
		_, err := loader.Resolve("ksm-config.json#slot")
		Expect(err).To(MatchError(ContainSubstring(`member "slot" not found`)))
		_, err = loader.Resolve("keystore_password#clientId")
		Expect(err).To(MatchError(ContainSubstring("not a JSON object")))
	})

	It("validates the directory", func() {
		Expect(FileSecretConfig{}.Validate()).To(MatchError(ContainSubstring("secrets_dir is required")))
		Expect(FileSecretConfig{SecretsDir: "/non/existent/dir"}.Validate()).To(MatchError(ContainSubstring("does not exist")))
		Expect(FileSecretConfig{SecretsDir: filepath.Join(dir, "keystore_password")}.Validate()).To(MatchError(ContainSubstring("is not a directory")))
	})
})

var _ = Describe("EnvResolver", func() {
	It("falls back to the relaxed variable name", func() {
		GinkgoT().Setenv("KEEPER_KSM_SECRET_PASSWORD", "from-env")
		Expect(NewEnvResolver().Resolve("keeper.ksm.secret_password")).To(Equal("from-env"))
	})

	It("prefers the exact variable name", func() {
		GinkgoT().Setenv("ksm-token", "exact")
		GinkgoT().Setenv("KSM_TOKEN", "relaxed")
		Expect(NewEnvResolver().Resolve("ksm-token")).To(Equal("exact"))
	})

	It("resolves unset variables to an empty string", func() {
		Expect(NewEnvResolver().Resolve("KSM_SURELY_UNSET_VARIABLE")).To(BeEmpty())
	})
})

var _ = Describe("AWSSecretLoader", func() {
	It("reads a key of a JSON secret", func() {
		loader := NewAWSSecretLoader(fakeSecretValues{value: ptr(`{"password":"p"}`)}, "app")
		Expect(loader.Resolve("password")).To(Equal("p"))
		_, err := loader.Resolve("missing")
		Expect(err).To(MatchError(ContainSubstring(`key "missing" not found`)))
	})

	It("returns plain text secrets whole", func() {
		loader := NewAWSSecretLoader(fakeSecretValues{value: ptr("plain")}, "app")
		Expect(loader.Resolve("ignored")).To(Equal("plain"))
	})

	It("wraps client failures", func() {
		loader := NewAWSSecretLoader(fakeSecretValues{err: errors.New("denied")}, "app")
		_, err := loader.Resolve("k")
		Expect(err).To(MatchError(ContainSubstring("denied")))
	})

	It("requires a secret name", func() {
		cfg := AWSConfig{AWSConfig: cloudstore.AWSConfig{Region: "us-east-1"}}
		Expect(cfg.Validate()).To(MatchError("AWS secret name is required"))
		cfg.SecretName = "app"
		Expect(cfg.Validate()).To(Succeed())
	})
})

var _ = Describe("VaultResolver", func() {
	It("reads KV v2 secrets", func() {
		r := NewVaultResolver(fakeLogical{secret: &api.Secret{Data: map[string]interface{}{
			"data": map[string]interface{}{"password": "v2"},
		}}}, "secret/data/app")
		Expect(r.Resolve("password")).To(Equal("v2"))
	})

	It("reads KV v1 secrets", func() {
		r := NewVaultResolver(fakeLogical{secret: &api.Secret{Data: map[string]interface{}{"password": "v1"}}}, "secret/app")
		Expect(r.Resolve("password")).To(Equal("v1"))
	})

	It("reports missing secrets", func() {
		_, err := NewVaultResolver(fakeLogical{}, "secret/app").Resolve("password")
		Expect(err).To(MatchError(ContainSubstring("no secret found")))
	})

	It("requires a path", func() {
		cfg := VaultConfig{VaultConfig: cloudstore.VaultConfig{Address: "http://localhost:8200", Token: "t"}}
		Expect(cfg.Validate()).To(MatchError("Vault path is required"))
	})
})

var _ = Describe("PropertiesResolver", func() {
	It("serves projected properties", func() {
		Register("ksm", NewPropertiesResolver(staticProperties{"R.password": "my-secret"}))
		DeferCleanup(Unregister, "ksm")

		Expect(Resolve("ksm:R.password")).To(Equal("my-secret"))
		_, err := Resolve("ksm:R.login")
		Expect(err).To(MatchError(ContainSubstring(`property "R.login" is not defined in keeperKsm`)))
	})
})
