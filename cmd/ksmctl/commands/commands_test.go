//go:build unit

package commands

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/animalet/sargantana-ksm/pkg/ksm"
	"github.com/animalet/sargantana-ksm/pkg/ksm/ksmtest"
	"github.com/animalet/sargantana-ksm/pkg/secrets"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestCommands(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Commands Suite")
}

const recordUID = "RrrrrrrrrrrrrrrrrrrrrR"

var _ = Describe("ksmctl", func() {
	var (
		dir       string
		tokenPath string
		out       *bytes.Buffer
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		tokenPath = filepath.Join(dir, "token")
		out = &bytes.Buffer{}

		fake := ksmtest.NewFake()
		fake.Records = []ksm.Record{
			ksmtest.Record(recordUID, "", "Database", "login", ksmtest.StringField("password", "password", "s3cret")),
		}
		ksm.Register("fake", ksmtest.Connector{SM: fake})

		previous, level := log.Logger, zerolog.GlobalLevel()
		DeferCleanup(func() {
			ksm.Unregister("fake")
			secrets.Unregister("keeper")
			secrets.Unregister("ksm")
			log.Logger = previous
			zerolog.SetGlobalLevel(level)
		})
	})

	writeConfig := func(body string) string {
		path := filepath.Join(dir, "app.yaml")
		Expect(os.WriteFile(path, []byte(body), 0o600)).To(Succeed())
		return path
	}

	execute := func(args ...string) error {
		g := &Globals{}
		root := NewRootCommand(g, "test")
		root.SetOut(out)
		root.SetErr(GinkgoWriter)
		root.SetArgs(append(args, "--connector", "fake", "--env-file", filepath.Join(dir, ".env")))
		err := root.Execute()
		Expect(g.Close()).To(Succeed())
		return err
	}

	rawConfig := func(extra string) string {
		return writeConfig(fmt.Sprintf(`
keeper:
  ksm:
    container_type: raw
    secret_path: %s
    cache:
      enabled: false
%s`, filepath.Join(dir, "ksm-config.json"), extra))
	}

	It("prints the version", func() {
		Expect(execute("version")).To(Succeed())
		Expect(out.String()).To(HavePrefix("ksmctl test"))
	})

	DescribeTable("keystore-type",
		func(provider, expected string) {
			Expect(execute("keystore-type", provider)).To(Succeed())
			Expect(out.String()).To(Equal(expected))
		},
		Entry("bc_fips", "bc_fips", "BCFKS\tksm-config.bcfks\n"),
		Entry("oracle_fips", "oracle-fips", "PKCS12\tksm-config.p12\n"),
		Entry("hsm", "aws_hsm", "PKCS11\n"),
	)

	It("rejects keystore-type for providers without a keystore", func() {
		Expect(execute("keystore-type", "raw")).To(MatchError(ContainSubstring("not persisted in a keystore")))
	})

	It("reads the provider from the configuration", func() {
		cfg := writeConfig("keeper:\n  ksm:\n    container_type: bc_fips\n")
		Expect(execute("keystore-type", "--config", cfg)).To(Succeed())
		Expect(out.String()).To(Equal("BCFKS\tksm-config.bcfks\n"))
	})

	It("requires a configuration file", func() {
		err := execute("run")
		Expect(err).To(MatchError("--config is required"))
		Expect(ExitCode(err)).To(Equal(ExitFailure))
	})

	It("exits with the restart code after redeeming a token, then runs", func() {
		Expect(os.WriteFile(tokenPath, []byte("US:token"), 0o600)).To(Succeed())
		err := execute("run", "--config", rawConfig("    one_time_token: "+tokenPath+"\n"))
		Expect(ExitCode(err)).To(Equal(ExitRestart))
		Expect(tokenPath).NotTo(BeAnExistingFile())

		cfg := rawConfig("    records:\n      - " + recordUID + "\n")
		Expect(execute("run", "--config", cfg)).To(Succeed())
		Expect(out.String()).To(ContainSubstring("3 record properties"))
		Expect(out.String()).To(ContainSubstring("KSM ready"))
	})

	It("redacts properties unless asked to reveal them", func() {
		Expect(os.WriteFile(tokenPath, []byte("US:token"), 0o600)).To(Succeed())
		Expect(ExitCode(execute("run", "--config", rawConfig("    one_time_token: "+tokenPath+"\n")))).To(Equal(ExitRestart))

		cfg := rawConfig("    records:\n      - " + recordUID + "\n")
		Expect(execute("properties", "--config", cfg)).To(Succeed())
		Expect(out.String()).To(ContainSubstring(recordUID + ".password=********"))
		Expect(out.String()).NotTo(ContainSubstring("s3cret"))

		out.Reset()
		Expect(execute("properties", "--config", cfg, "--reveal")).To(Succeed())
		Expect(out.String()).To(ContainSubstring(recordUID + ".password=s3cret"))
		Expect(out.String()).To(ContainSubstring(recordUID + ".title=Database"))
	})

	It("loads the environment file before expanding placeholders", func() {
		Expect(os.WriteFile(filepath.Join(dir, ".env"), []byte("KSMCTL_PROVIDER=bc_fips\n"), 0o600)).To(Succeed())
		DeferCleanup(os.Unsetenv, "KSMCTL_PROVIDER")

		cfg := writeConfig("keeper:\n  ksm:\n    container_type: ${env:KSMCTL_PROVIDER}\n")
		Expect(execute("keystore-type", "--config", cfg)).To(Succeed())
		Expect(out.String()).To(Equal("BCFKS\tksm-config.bcfks\n"))
	})

	Describe("check", func() {
		It("reports disabled enforcement", func() {
			Expect(execute("check", "--config", rawConfig(""))).To(Succeed())
			Expect(out.String()).To(Equal("IL5 enforcement is disabled for raw\n"))
		})

		It("fails in strict mode", func() {
			err := execute("check", "--config", rawConfig("    enforce_il5: true\n"))
			Expect(err).To(HaveOccurred())
			Expect(ExitCode(err)).To(Equal(ExitFailure))
		})

		It("lists warnings when the checks are downgraded", func() {
			cfg := rawConfig("    enforce_il5: true\ncrypto.check.mode: warn\naudit.check.mode: warn\n")
			Expect(execute("check", "--config", cfg)).To(Succeed())
			Expect(out.String()).To(HavePrefix("raw accepted with"))
			Expect(out.String()).To(ContainSubstring("IL-5 compliant"))
		})
	})
})
