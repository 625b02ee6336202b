// Package starter wires KSM into an application at startup: it binds the keeper.ksm section, runs
// the lifecycle hooks (compliance first), redeems a one-time token or loads stored credentials,
// publishes the KSM options and projects the configured records into placeholders.
package starter

import (
	"context"
	"time"

	"github.com/animalet/sargantana-ksm/pkg/bootstrap"
	"github.com/animalet/sargantana-ksm/pkg/cache"
	"github.com/animalet/sargantana-ksm/pkg/compliance"
	"github.com/animalet/sargantana-ksm/pkg/config"
	"github.com/animalet/sargantana-ksm/pkg/keystore"
	"github.com/animalet/sargantana-ksm/pkg/ksm"
	"github.com/animalet/sargantana-ksm/pkg/ksmerr"
	"github.com/animalet/sargantana-ksm/pkg/logging"
	"github.com/animalet/sargantana-ksm/pkg/records"
	"github.com/animalet/sargantana-ksm/pkg/secrets"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Placeholder prefixes registered once credentials are available.
const (
	NotationPrefix   = records.NotationPrefix
	PropertiesPrefix = "ksm"
)

// Hook runs after the configuration is bound and before any credential is touched.
// Returning an error aborts startup.
type Hook func(ctx context.Context, props *Properties) error

// Option customizes a Starter.
type Option func(*Starter)

// WithCryptoProvider replaces the Go runtime crypto module.
func WithCryptoProvider(p keystore.CryptoProvider) Option {
	return func(s *Starter) {
		s.crypto = p
	}
}

// WithClients injects pre-built cloud and HSM clients.
func WithClients(c bootstrap.Clients) Option {
	return func(s *Starter) {
		s.clients = c
	}
}

// WithLogging uses the configured loggers for the audit state and audit events.
func WithLogging(r *logging.Registry) Option {
	return func(s *Starter) {
		s.logs = r
	}
}

// WithHooks appends lifecycle hooks. They run after the compliance check, in order.
func WithHooks(hooks ...Hook) Option {
	return func(s *Starter) {
		s.hooks = append(s.hooks, hooks...)
	}
}

// WithCacheStore replaces the store built from keeper.ksm.cache.
func WithCacheStore(store cache.Store) Option {
	return func(s *Starter) {
		s.store = store
		s.storeSet = true
	}
}

// WithClock replaces time.Now for cache freshness.
func WithClock(now func() time.Time) Option {
	return func(s *Starter) {
		s.now = now
	}
}

// Starter runs the KSM startup sequence once.
type Starter struct {
	src      *config.Source
	sm       ksm.SecretsManager
	crypto   keystore.CryptoProvider
	clients  bootstrap.Clients
	logs     *logging.Registry
	hooks    []Hook
	store    cache.Store
	storeSet bool
	now      func() time.Time
}

// New creates a starter reading src and talking to Keeper through sm.
func New(src *config.Source, sm ksm.SecretsManager, opts ...Option) *Starter {
	s := &Starter{src: src, sm: sm, crypto: keystore.Runtime(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Published is what the starter makes available to the application.
type Published struct {
	Properties  *Properties
	Compliance  compliance.Result
	Target      bootstrap.Target
	Credentials bootstrap.Credentials
	Options     ksm.Options
	// Records is nil when no records are configured.
	Records *records.PropertySource
}

// Start runs the startup sequence. After a one-time token has been redeemed it returns a
// *ksmerr.TokenConsumedError and the process must restart without the token.
// Fatal errors are logged here, once.
func (s *Starter) Start(ctx context.Context) (*Published, error) {
	published, err := s.start(ctx)
	switch {
	case err == nil:
		return published, nil
	case ksmerr.IsTokenConsumed(err):
		log.Warn().Msg(err.Error())
	default:
		log.Error().Err(err).Msg("KSM startup failed")
	}
	return nil, err
}

// Check binds the configuration and runs the compliance validation only. No credential is read
// and no hook runs.
func (s *Starter) Check() (*Properties, compliance.Result, error) {
	props, err := s.bind()
	if err != nil {
		return nil, compliance.Result{}, err
	}
	result, err := s.checkCompliance(props)
	return props, result, err
}

func (s *Starter) bind() (*Properties, error) {
	props, err := config.GetOrDefault[Properties](s.src, Prefix)
	if err != nil {
		return nil, ksmerr.WrapConfig(err, Prefix, "invalid KSM configuration")
	}
	return props, nil
}

func (s *Starter) start(ctx context.Context) (*Published, error) {
	props, result, err := s.Check()
	if err != nil {
		return nil, err
	}
	for _, hook := range s.hooks {
		if err = hook(ctx, props); err != nil {
			return nil, errors.Wrap(err, "KSM lifecycle hook failed")
		}
	}

	settings, err := props.Settings(s.crypto)
	if err != nil {
		return nil, err
	}
	target, err := bootstrap.SelectTarget(settings, s.clients)
	if err != nil {
		return nil, err
	}
	log.Info().Str("provider", string(settings.Provider)).Str("target", target.String()).Msg("KSM credentials target selected")

	if props.TokenConfigured() {
		return nil, bootstrap.NewDispatcher(s.sm, bootstrap.WithAuditLogger(s.audit())).Run(ctx, props.OneTimeToken, target)
	}

	creds, err := bootstrap.Load(ctx, target)
	if err != nil {
		return nil, err
	}
	published := &Published{
		Properties:  props,
		Compliance:  result,
		Target:      target,
		Credentials: creds,
		Options:     ksm.Options{Storage: creds.Storage()},
	}
	secrets.Register(NotationPrefix, records.NewNotationResolver(ctx, s.sm, published.Options))

	store, err := s.cacheStore(props.Cache)
	if err != nil {
		return nil, err
	}
	locatorOpts := []records.LocatorOption{records.WithLocatorAuditLogger(s.audit()), records.WithClock(s.now)}
	if store != nil {
		locatorOpts = append(locatorOpts, records.WithCache(store, props.Cache.EffectiveTTL(), props.Cache.AllowStaleIfOffline))
	}
	source, err := records.NewLocator(s.sm, published.Options, props.Records, locatorOpts...).Locate(ctx)
	if err != nil {
		return nil, err
	}
	if source != nil {
		secrets.Register(PropertiesPrefix, secrets.NewPropertiesResolver(source))
		log.Info().Int("properties", source.Len()).Msg("KSM record properties available")
	}
	published.Records = source
	return published, nil
}

func (s *Starter) checkCompliance(props *Properties) (compliance.Result, error) {
	provider, err := props.Provider()
	if err != nil {
		return compliance.Result{}, err
	}
	vendor, err := compliance.ParseHSMVendor(props.HSMProvider)
	if err != nil {
		return compliance.Result{}, err
	}
	modes, err := s.modes()
	if err != nil {
		return compliance.Result{}, err
	}
	var audit compliance.AuditState
	if s.logs != nil {
		audit = s.logs.AuditState()
	}
	return compliance.Validate(compliance.Input{
		Enforce:         props.EnforceIL5,
		Provider:        provider,
		HSMVendor:       vendor,
		Crypto:          compliance.CryptoState{Provider: s.crypto.Name(), FIPSApproved: s.crypto.FIPSApproved()},
		Audit:           audit,
		TokenConfigured: props.TokenConfigured(),
		Modes:           modes,
	})
}

func (s *Starter) modes() (compliance.Modes, error) {
	var values [3]string
	for i, key := range []string{CryptoModeKey, AuditModeKey, BootstrapModeKey} {
		v, err := s.src.String(key, string(compliance.Strict))
		if err != nil {
			return compliance.Modes{}, ksmerr.WrapConfig(err, key, "invalid check mode")
		}
		values[i] = v
	}
	return compliance.Modes{
		Crypto:    compliance.ParseMode(values[0]),
		Audit:     compliance.ParseMode(values[1]),
		Bootstrap: compliance.ParseMode(values[2]),
	}, nil
}

func (s *Starter) cacheStore(c cache.Config) (cache.Store, error) {
	if s.storeSet {
		return s.store, nil
	}
	store, err := cache.Open(c)
	if err != nil {
		return nil, ksmerr.WrapConfig(err, Prefix+".cache", "invalid KSM cache configuration")
	}
	return store, nil
}

func (s *Starter) audit() zerolog.Logger {
	if s.logs != nil {
		return s.logs.Audit()
	}
	return log.Logger.With().Str("logger", logging.AuditLogger).Logger()
}
