package compliance

import (
	"fmt"
	"strings"

	"github.com/animalet/sargantana-ksm/pkg/ksmerr"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// CheckMode decides whether a failed check rejects startup or only warns.
type CheckMode string

const (
	Strict CheckMode = "strict"
	Warn   CheckMode = "warn"
)

// ParseMode reads a check mode setting. Only "warn" (any case) downgrades; anything else is strict.
func ParseMode(value string) CheckMode {
	if strings.EqualFold(strings.TrimSpace(value), string(Warn)) {
		return Warn
	}
	return Strict
}

// Modes holds one mode per check category.
type Modes struct {
	Crypto    CheckMode
	Audit     CheckMode
	Bootstrap CheckMode
}

// CryptoState describes the cryptographic provider the process runs with.
type CryptoState struct {
	Provider     string
	FIPSApproved bool
}

// AuditState describes the audit logging setup.
type AuditState struct {
	// Logger is the recognized audit logger that was found, empty if none is configured.
	Logger      string
	Level       zerolog.Level
	DurableSink bool
}

// Input is everything the validator looks at.
type Input struct {
	Enforce         bool
	Provider        ProviderType
	HSMVendor       HSMVendor
	Crypto          CryptoState
	Audit           AuditState
	TokenConfigured bool
	Modes           Modes
}

// Result is the outcome of an accepted validation. Warnings holds every downgraded failure.
type Result struct {
	Checked  bool
	Warnings []string
}

// Check names.
const (
	CheckFIPSProvider = "crypto.fips_provider"
	CheckProviderTier = "crypto.provider_tier"
	CheckHSMVendor    = "crypto.hsm_vendor"
	CheckAuditLevel   = "audit.level"
	CheckAuditSink    = "audit.durable_sink"
	CheckOneTimeToken = "bootstrap.one_time_token"
)

type failure struct {
	check   string
	mode    CheckMode
	message string
}

// Validate accepts or rejects startup. With enforcement off nothing is checked.
// In strict mode the first failing check is returned as a *ksmerr.ComplianceError; checks whose
// category is in warn mode are logged and reported in Result.Warnings.
func Validate(in Input) (Result, error) {
	if !in.Enforce {
		return Result{}, nil
	}

	var failures []failure
	fail := func(check string, mode CheckMode, format string, args ...any) {
		failures = append(failures, failure{check, mode, fmt.Sprintf(format, args...)})
	}

	if !in.Crypto.FIPSApproved {
		fail(CheckFIPSProvider, in.Modes.Crypto,
			"No FIPS-certified crypto provider is active (active: %s). IL5 mode requires FIPS-compliant crypto.", providerName(in.Crypto))
	}

	profile, ok := ProfileFor(in.Provider)
	switch {
	case !ok:
		fail(CheckProviderTier, in.Modes.Crypto, "Unexpected or unimplemented provider: %s", in.Provider)
	case !profile.IL5Ready():
		fail(CheckProviderTier, in.Modes.Crypto, "%s is not IL-5 compliant (tier %s)", in.Provider, profile.Tier)
	case profile.HSMBased() && !in.HSMVendor.FIPSApproved():
		fail(CheckHSMVendor, in.Modes.Crypto,
			"Configured HSM provider is not FIPS-approved. IL5 enforcement requires a FIPS-compliant PKCS#11 provider.")
	}

	if in.Audit.Logger == "" {
		fail(CheckAuditLevel, in.Modes.Audit, "No audit logger is configured. IL5 mode requires one of %s at info level.", strings.Join(AuditLoggers, ", "))
	} else if !AuditLevelOK(in.Audit.Level) {
		fail(CheckAuditLevel, in.Modes.Audit, "Audit logger %q is at level %s. IL5 mode requires info level or higher.", in.Audit.Logger, in.Audit.Level)
	}
	if !in.Audit.DurableSink {
		fail(CheckAuditSink, in.Modes.Audit, "No durable log sink is attached to the audit or root logger. IL5 mode requires persistent audit logs.")
	}

	if in.TokenConfigured {
		fail(CheckOneTimeToken, in.Modes.Bootstrap, "One-time token bootstrap is not allowed when IL5 enforcement is enabled.")
	}

	result := Result{Checked: true}
	var rejected []failure
	for _, f := range failures {
		if f.mode == Warn {
			log.Warn().Str("check", f.check).Msg(f.message)
			result.Warnings = append(result.Warnings, f.message)
			continue
		}
		rejected = append(rejected, f)
	}
	if len(rejected) == 0 {
		return result, nil
	}

	messages := make([]string, len(rejected))
	for i, f := range rejected {
		log.Error().Str("check", f.check).Msg(f.message)
		messages[i] = f.message
	}
	return result, &ksmerr.ComplianceError{
		Check:    rejected[0].check,
		Message:  rejected[0].message,
		Failures: messages,
	}
}

// AuditLevelOK reports whether an audit logger at level records info events.
func AuditLevelOK(level zerolog.Level) bool {
	return level >= zerolog.InfoLevel && level < zerolog.NoLevel
}

// AuditLoggers are the logger names recognized as audit loggers.
var AuditLoggers = []string{"keeper.ksm.audit", "audit"}

func providerName(c CryptoState) string {
	if c.Provider == "" {
		return "none"
	}
	return c.Provider
}
