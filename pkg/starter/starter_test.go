//go:build unit

package starter

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/animalet/sargantana-ksm/pkg/bootstrap"
	"github.com/animalet/sargantana-ksm/pkg/cache"
	"github.com/animalet/sargantana-ksm/pkg/compliance"
	"github.com/animalet/sargantana-ksm/pkg/config"
	"github.com/animalet/sargantana-ksm/pkg/keystore"
	"github.com/animalet/sargantana-ksm/pkg/ksm"
	"github.com/animalet/sargantana-ksm/pkg/ksm/ksmtest"
	"github.com/animalet/sargantana-ksm/pkg/ksmerr"
	"github.com/animalet/sargantana-ksm/pkg/logging"
	"github.com/animalet/sargantana-ksm/pkg/secrets"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestStarter(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Starter Suite")
}

const (
	recordUID = "RrrrrrrrrrrrrrrrrrrrrR"
	folderUID = "FffffffffffffffffffffF"
)

func newFake() *ksmtest.Fake {
	fake := ksmtest.NewFake()
	fake.Records = []ksm.Record{
		ksmtest.Record(recordUID, folderUID, "Database", "login",
			ksmtest.StringField("login", "", "admin"),
			ksmtest.StringField("password", "password", "s3cret"),
		),
	}
	fake.Folders = []ksm.Folder{{UID: folderUID, Name: "Production"}}
	return fake
}

func source(ksmSection map[string]any, top ...map[string]any) *config.Source {
	tree := map[string]any{"keeper": map[string]any{"ksm": ksmSection}}
	for _, t := range top {
		for k, v := range t {
			tree[k] = v
		}
	}
	return config.FromMap(tree)
}

var _ = Describe("Starter", func() {
	var (
		ctx        context.Context
		dir        string
		configPath string
		tokenPath  string
		fake       *ksmtest.Fake
	)

	BeforeEach(func() {
		ctx = context.Background()
		dir = GinkgoT().TempDir()
		configPath = filepath.Join(dir, "ksm", "ksm-config.json")
		tokenPath = filepath.Join(dir, "token")
		fake = newFake()
		DeferCleanup(func() {
			secrets.Unregister(NotationPrefix)
			secrets.Unregister(PropertiesPrefix)
		})
	})

	rawSection := func(extra map[string]any) map[string]any {
		section := map[string]any{"container_type": "raw", "secret_path": configPath}
		for k, v := range extra {
			section[k] = v
		}
		return section
	}

	redeem := func() {
		Expect(os.WriteFile(tokenPath, []byte("US:one-time-token\n"), 0o600)).To(Succeed())
		_, err := New(source(rawSection(map[string]any{"one_time_token": tokenPath})), fake).Start(ctx)
		Expect(ksmerr.IsTokenConsumed(err)).To(BeTrue())
	}

	It("redeems the token, then starts from the persisted credentials", func() {
		redeem()
		Expect(tokenPath).NotTo(BeAnExistingFile())
		Expect(configPath).To(BeAnExistingFile())

		published, err := New(source(rawSection(map[string]any{
			"records": []any{recordUID, "Production/Database"},
		})), fake, WithCacheStore(cache.NewMemory())).Start(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(published.Target).To(Equal(bootstrap.RawFile{Path: configPath}))
		Expect(published.Credentials.Get(ksm.KeyClientID)).To(Equal("client-id"))
		Expect(published.Options.Storage).NotTo(BeNil())

		Expect(published.Records).NotTo(BeNil())
		value, ok := published.Records.Get(recordUID + ".password")
		Expect(ok).To(BeTrue())
		Expect(value).To(Equal("s3cret"))

		Expect(secrets.Resolve("ksm:" + recordUID + ".login")).To(Equal("admin"))
		Expect(secrets.Resolve("keeper://" + recordUID + "/field/password")).To(Equal("s3cret"))
	})

	It("expands KSM placeholders in sections bound after startup", func() {
		redeem()
		_, err := New(source(rawSection(map[string]any{"records": []any{recordUID}})), fake,
			WithCacheStore(nil)).Start(ctx)
		Expect(err).NotTo(HaveOccurred())

		src := config.FromMap(map[string]any{"database": map[string]any{"password": "${ksm:" + recordUID + ".password}"}})
		Expect(src.String("database.password", "")).To(Equal("s3cret"))
	})

	It("does not register record properties when no records are configured", func() {
		redeem()
		published, err := New(source(rawSection(nil)), fake, WithCacheStore(nil)).Start(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(published.Records).To(BeNil())
		Expect(secrets.GetResolver(PropertiesPrefix)).To(BeNil())
		Expect(secrets.GetResolver(NotationPrefix)).NotTo(BeNil())
	})

	It("fails when no credentials were persisted", func() {
		_, err := New(source(rawSection(nil)), fake).Start(ctx)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("failed to load KSM credentials"))
	})

	It("reports unresolvable record specifiers", func() {
		redeem()
		_, err := New(source(rawSection(map[string]any{"records": []any{"Staging/Database"}})), fake,
			WithCacheStore(nil)).Start(ctx)
		var resErr *ksmerr.ResolutionError
		Expect(errors.As(err, &resErr)).To(BeTrue())
		Expect(resErr.Message).To(Equal("Folder not found: Staging"))
	})

	It("rejects unknown container types", func() {
		_, err := New(source(map[string]any{"container_type": "floppy"}), fake).Start(ctx)
		Expect(ksmerr.IsConfig(err)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("floppy"))
	})

	It("accepts provider_type as an alias", func() {
		props := Properties{ProviderType: "bc-fips"}
		Expect(props.Provider()).To(Equal(compliance.BCFIPS))

		props.ContainerType = "raw"
		Expect(props.Provider()).To(Equal(compliance.Raw))
	})

	It("defaults the keystore alias and password", func() {
		settings, err := Properties{}.Settings(keystore.StaticProvider{ProviderName: "test", KeystoreType: "p12"})
		Expect(err).NotTo(HaveOccurred())
		Expect(settings.Provider).To(Equal(compliance.Default))
		Expect(settings.SecretUser).To(Equal("changeme"))
		Expect(settings.SecretPassword.Use(func(plain []byte) error {
			Expect(string(plain)).To(Equal("changeme"))
			return nil
		})).To(Succeed())
	})

	Describe("lifecycle hooks", func() {
		It("run with the bound properties before the token is touched", func() {
			Expect(os.WriteFile(tokenPath, []byte("token"), 0o600)).To(Succeed())
			var seen *Properties
			hook := func(_ context.Context, props *Properties) error {
				seen = props
				return errors.New("not today")
			}
			_, err := New(source(rawSection(map[string]any{"one_time_token": tokenPath})), fake, WithHooks(hook)).Start(ctx)
			Expect(err).To(MatchError(ContainSubstring("not today")))
			Expect(seen.SecretPath).To(Equal(configPath))
			Expect(tokenPath).To(BeAnExistingFile())
		})
	})

	Describe("IL5 enforcement", func() {
		It("rejects a non-compliant setup in strict mode", func() {
			Expect(os.WriteFile(tokenPath, []byte("token"), 0o600)).To(Succeed())
			_, err := New(source(rawSection(map[string]any{"enforce_il5": true, "one_time_token": tokenPath})), fake,
				WithCryptoProvider(keystore.StaticProvider{ProviderName: "go-crypto"})).Start(ctx)
			var ce *ksmerr.ComplianceError
			Expect(errors.As(err, &ce)).To(BeTrue())
			Expect(ce.Check).To(Equal(compliance.CheckFIPSProvider))
			Expect(tokenPath).To(BeAnExistingFile())
		})

		It("continues with warnings when every category is downgraded", func() {
			redeem()
			warn := map[string]any{
				"crypto":    map[string]any{"check": map[string]any{"mode": "warn"}},
				"audit":     map[string]any{"check": map[string]any{"mode": "warn"}},
				"bootstrap": map[string]any{"check": map[string]any{"mode": "warn"}},
			}
			published, err := New(source(rawSection(map[string]any{"enforce_il5": true}), warn), fake,
				WithCryptoProvider(keystore.StaticProvider{ProviderName: "go-crypto"}), WithCacheStore(nil)).Start(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(published.Compliance.Checked).To(BeTrue())
			Expect(published.Compliance.Warnings).NotTo(BeEmpty())
		})

		It("passes the compliance gate with a FIPS provider and a durable audit logger", func() {
			previous, level := log.Logger, zerolog.GlobalLevel()
			registry, err := logging.Configure(logging.Config{
				Format: logging.FormatJSON,
				Loggers: map[string]logging.LoggerConfig{
					logging.AuditLogger: {Level: "info", File: &logging.FileSink{Path: filepath.Join(dir, "audit.log")}},
				},
			}, GinkgoWriter)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(func() {
				_ = registry.Close()
				log.Logger = previous
				zerolog.SetGlobalLevel(level)
			})

			_, err = New(source(map[string]any{
				"container_type": "bc_fips",
				"secret_path":    filepath.Join(dir, "missing.bcfks"),
				"enforce_il5":    true,
			}), fake,
				WithCryptoProvider(keystore.StaticProvider{ProviderName: "go-fips140", FIPS: true, KeystoreType: "bcfks"}),
				WithLogging(registry)).Start(ctx)
			Expect(err).To(HaveOccurred())
			Expect(ksmerr.IsCompliance(err)).To(BeFalse())
		})
	})
})
