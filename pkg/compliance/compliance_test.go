//go:build unit

package compliance_test

import (
	"testing"

	"github.com/animalet/sargantana-ksm/pkg/compliance"
	"github.com/animalet/sargantana-ksm/pkg/ksmerr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/rs/zerolog"
)

func TestCompliance(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Compliance Suite")
}

func compliantInput() compliance.Input {
	return compliance.Input{
		Enforce:  true,
		Provider: compliance.BCFIPS,
		Crypto:   compliance.CryptoState{Provider: "go-fips140", FIPSApproved: true},
		Audit: compliance.AuditState{
			Logger:      "keeper.ksm.audit",
			Level:       zerolog.InfoLevel,
			DurableSink: true,
		},
	}
}

var _ = Describe("Validate", func() {
	It("accepts anything when enforcement is off", func() {
		result, err := compliance.Validate(compliance.Input{Provider: compliance.Raw, TokenConfigured: true})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Checked).To(BeFalse())
		Expect(result.Warnings).To(BeEmpty())
	})

	It("accepts a fully compliant setup", func() {
		result, err := compliance.Validate(compliantInput())
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Checked).To(BeTrue())
		Expect(result.Warnings).To(BeEmpty())
	})

	Context("crypto checks", func() {
		It("rejects a non-FIPS provider in strict mode", func() {
			in := compliantInput()
			in.Crypto = compliance.CryptoState{Provider: "go-crypto"}
			_, err := compliance.Validate(in)
			Expect(ksmerr.IsCompliance(err)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("No FIPS-certified crypto provider is active"))
		})

		It("accepts with a warning when crypto mode is warn", func() {
			in := compliantInput()
			in.Crypto = compliance.CryptoState{Provider: "go-crypto"}
			in.Modes.Crypto = compliance.Warn
			result, err := compliance.Validate(in)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Warnings).To(HaveLen(1))
		})

		It("rejects providers below IL5", func() {
			in := compliantInput()
			in.Provider = compliance.Default
			_, err := compliance.Validate(in)
			Expect(err).To(MatchError(ContainSubstring("default is not IL-5 compliant")))
		})

		It("rejects a SoftHSM2 module behind an HSM provider", func() {
			in := compliantInput()
			in.Provider = compliance.SunPKCS11
			in.HSMVendor = compliance.SoftHSM2
			_, err := compliance.Validate(in)
			Expect(err).To(MatchError(ContainSubstring("HSM provider is not FIPS-approved")))
		})

		It("rejects an HSM provider with no vendor configured", func() {
			in := compliantInput()
			in.Provider = compliance.HSM
			_, err := compliance.Validate(in)
			var ce *ksmerr.ComplianceError
			Expect(err).To(BeAssignableToTypeOf(ce))
			Expect(err.(*ksmerr.ComplianceError).Check).To(Equal(compliance.CheckHSMVendor))
		})

		It("accepts AWS CloudHSM", func() {
			in := compliantInput()
			in.Provider = compliance.AWSHSM
			in.HSMVendor = compliance.AWSCloudHSM
			_, err := compliance.Validate(in)
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Context("audit checks", func() {
		It("rejects a missing durable sink in strict mode", func() {
			in := compliantInput()
			in.Audit.DurableSink = false
			_, err := compliance.Validate(in)
			Expect(err).To(MatchError(ContainSubstring("No durable log sink")))
		})

		It("accepts a missing durable sink when audit mode is warn", func() {
			in := compliantInput()
			in.Audit.DurableSink = false
			in.Modes.Audit = compliance.Warn
			result, err := compliance.Validate(in)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Warnings).To(ConsistOf(ContainSubstring("No durable log sink")))
		})

		It("rejects an audit logger below info", func() {
			in := compliantInput()
			in.Audit.Level = zerolog.DebugLevel
			_, err := compliance.Validate(in)
			Expect(err).To(MatchError(ContainSubstring("requires info level")))
		})

		It("rejects when no audit logger is configured", func() {
			in := compliantInput()
			in.Audit = compliance.AuditState{DurableSink: true}
			_, err := compliance.Validate(in)
			Expect(err).To(MatchError(ContainSubstring("No audit logger is configured")))
		})

		It("keeps crypto strict when only audit is downgraded", func() {
			in := compliantInput()
			in.Audit.DurableSink = false
			in.Crypto.FIPSApproved = false
			in.Modes.Audit = compliance.Warn
			_, err := compliance.Validate(in)
			Expect(err).To(HaveOccurred())
			Expect(err.(*ksmerr.ComplianceError).Check).To(Equal(compliance.CheckFIPSProvider))
		})
	})

	Context("bootstrap check", func() {
		It("rejects a configured one-time token", func() {
			in := compliantInput()
			in.TokenConfigured = true
			_, err := compliance.Validate(in)
			Expect(err).To(MatchError(ContainSubstring("One-time token bootstrap is not allowed")))
		})

		It("warns about a one-time token when bootstrap mode is warn", func() {
			in := compliantInput()
			in.TokenConfigured = true
			in.Modes.Bootstrap = compliance.Warn
			_, err := compliance.Validate(in)
			Expect(err).NotTo(HaveOccurred())
		})
	})

	It("lists every strict failure", func() {
		in := compliantInput()
		in.Provider = compliance.Raw
		in.Crypto.FIPSApproved = false
		in.TokenConfigured = true
		_, err := compliance.Validate(in)
		Expect(err.(*ksmerr.ComplianceError).Failures).To(HaveLen(3))
		Expect(err.Error()).To(ContainSubstring("and 2 more"))
	})
})

var _ = Describe("Profiles", func() {
	DescribeTable("provider tiers",
		func(t compliance.ProviderType, tier compliance.Tier, il5 bool) {
			p := compliance.MustProfile(t)
			Expect(p.Tier).To(Equal(tier))
			Expect(p.IL5Ready()).To(Equal(il5))
		},
		Entry("default", compliance.Default, compliance.IL2, false),
		Entry("bc_fips", compliance.BCFIPS, compliance.IL5, true),
		Entry("google", compliance.Google, compliance.IL4, false),
		Entry("aws", compliance.AWS, compliance.IL5, true),
		Entry("raw", compliance.Raw, compliance.IL2, false),
	)

	It("orders tiers", func() {
		Expect(compliance.IL2 < compliance.IL4).To(BeTrue())
		Expect(compliance.IL5 < compliance.IL6).To(BeTrue())
		Expect(compliance.IL5.String()).To(Equal("IL5"))
	})

	It("classifies storage", func() {
		Expect(compliance.MustProfile(compliance.Azure).CloudBased()).To(BeTrue())
		Expect(compliance.MustProfile(compliance.Azure).FedRAMPHigh()).To(BeTrue())
		Expect(compliance.MustProfile(compliance.OracleFIPS).KeystoreBased()).To(BeTrue())
		Expect(compliance.MustProfile(compliance.Fortanix).HSMBased()).To(BeTrue())
		Expect(compliance.MustProfile(compliance.Raw).Raw()).To(BeTrue())
	})

	It("parses provider names loosely", func() {
		t, err := compliance.ParseProviderType("BC-FIPS")
		Expect(err).NotTo(HaveOccurred())
		Expect(t).To(Equal(compliance.BCFIPS))

		t, err = compliance.ParseProviderType("")
		Expect(err).NotTo(HaveOccurred())
		Expect(t).To(Equal(compliance.Default))

		_, err = compliance.ParseProviderType("floppy")
		Expect(ksmerr.IsConfig(err)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("Unexpected or unimplemented provider: floppy"))
	})

	It("parses HSM vendors in any spelling", func() {
		v, err := compliance.ParseHSMVendor("awsCloudHsm")
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(compliance.AWSCloudHSM))
		Expect(v.FIPSApproved()).To(BeTrue())

		v, err = compliance.ParseHSMVendor("softHsm2")
		Expect(err).NotTo(HaveOccurred())
		Expect(v.FIPSApproved()).To(BeFalse())

		_, err = compliance.ParseHSMVendor("toaster")
		Expect(err).To(HaveOccurred())
	})

	It("reads check modes", func() {
		Expect(compliance.ParseMode("WARN")).To(Equal(compliance.Warn))
		Expect(compliance.ParseMode("")).To(Equal(compliance.Strict))
		Expect(compliance.ParseMode("lenient")).To(Equal(compliance.Strict))
	})
})
