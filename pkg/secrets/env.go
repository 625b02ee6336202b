package secrets

import (
	"os"
	"strings"

	"github.com/rs/zerolog/log"
)

// EnvResolver reads environment variables. It is the default resolver, used when a placeholder
// has no prefix.
//
// A dotted property name that is not set verbatim is also looked up in its relaxed form, so a
// deployment can supply KSM settings the way container platforms pass them:
//
//	secret_password: ${keeper.ksm.secret_password}   # KEEPER_KSM_SECRET_PASSWORD
//	one_time_token: ${env:KSM_TOKEN_FILE}
type EnvResolver struct{}

// NewEnvResolver creates the environment resolver.
func NewEnvResolver() *EnvResolver {
	return &EnvResolver{}
}

// Resolve returns the variable named key, or its relaxed form. Unset variables resolve to an
// empty string, as with os.Expand, and are logged.
func (e *EnvResolver) Resolve(key string) (string, error) {
	for _, name := range envNames(key) {
		if value, ok := os.LookupEnv(name); ok && value != "" {
			log.Debug().Str("env_var", name).Msg("Retrieved value from environment variable")
			return value, nil
		}
	}
	log.Warn().Strs("env_vars", envNames(key)).Msg("Environment variable not set or empty - using empty string")
	return "", nil
}

// Name returns "Environment".
func (e *EnvResolver) Name() string {
	return "Environment"
}

// envNames returns key followed by its upper-case form with dots and dashes turned into
// underscores, when that differs.
func envNames(key string) []string {
	relaxed := strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
	if relaxed == key {
		return []string{key}
	}
	return []string{key, relaxed}
}
