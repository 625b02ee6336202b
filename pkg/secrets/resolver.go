// Package secrets resolves configuration placeholders through resolvers registered per prefix.
// A placeholder "prefix:key" is handed to the resolver registered for prefix; a placeholder
// without a prefix is read from the environment.
package secrets

import (
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// PropertyResolver retrieves a value by key.
//
// Implementations in this package:
//   - EnvResolver: environment variables
//   - FileSecretLoader: files in a secrets directory
//   - AWSSecretLoader: AWS Secrets Manager
//   - VaultResolver: HashiCorp Vault
//   - PropertiesResolver: projected KSM record properties
type PropertyResolver interface {
	// Resolve returns the value for key, given without its prefix.
	Resolve(key string) (string, error)
	// Name is used in logs and errors.
	Name() string
}

var (
	mu        sync.RWMutex
	resolvers = make(map[string]PropertyResolver)
)

func init() {
	Register("env", NewEnvResolver())
}

// Register binds a resolver to prefix, given without the trailing colon. An existing
// resolver for the prefix is replaced with a warning.
func Register(prefix string, resolver PropertyResolver) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := resolvers[prefix]; exists {
		log.Warn().Str("prefix", prefix).Msg("Overriding existing property resolver")
	}
	resolvers[prefix] = resolver
}

// Unregister removes the resolver bound to prefix.
func Unregister(prefix string) {
	mu.Lock()
	defer mu.Unlock()
	delete(resolvers, prefix)
}

// Resolve resolves "prefix:key", or "key" from the environment.
//
//   - "vault:DATABASE_PASSWORD" uses the vault resolver
//   - "keeper://UID/field/password" uses the keeper resolver with key "//UID/field/password"
//   - "PORT" uses the environment
func Resolve(property string) (string, error) {
	prefix, key := parseProperty(property)

	resolver := GetResolver(prefix)
	if resolver == nil {
		return "", errors.Errorf("no resolver registered for prefix %q", prefix)
	}

	value, err := resolver.Resolve(key)
	if err != nil {
		return "", errors.Wrapf(err, "failed to resolve %q using %s resolver", property, resolver.Name())
	}
	return value, nil
}

// GetResolver returns the resolver bound to prefix, or nil.
func GetResolver(prefix string) PropertyResolver {
	mu.RLock()
	defer mu.RUnlock()
	return resolvers[prefix]
}

// ListPrefixes returns the registered prefixes in sorted order.
func ListPrefixes() []string {
	mu.RLock()
	defer mu.RUnlock()
	prefixes := make([]string, 0, len(resolvers))
	for prefix := range resolvers {
		prefixes = append(prefixes, prefix)
	}
	sort.Strings(prefixes)
	return prefixes
}

// parseProperty splits on the first colon. Without a colon the prefix is "env".
func parseProperty(property string) (prefix string, key string) {
	prefix, key, found := strings.Cut(property, ":")
	if !found {
		return "env", property
	}
	return prefix, key
}
