// Package bootstrap redeems a KSM one-time token and persists the resulting application
// credentials to the configured target, or loads previously persisted credentials.
package bootstrap

import (
	"context"
	"os"
	"strings"

	"github.com/animalet/sargantana-ksm/pkg/ksm"
	"github.com/animalet/sargantana-ksm/pkg/ksmerr"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// redeemUID is requested when the SDK cannot consume a token directly. Fetching any record
// forces the token exchange; this UID matches no record.
const redeemUID = "AAAAAAAAAAAAAAAAAAAAAA"

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithAuditLogger sends audit events to logger.
func WithAuditLogger(logger zerolog.Logger) Option {
	return func(d *Dispatcher) {
		d.audit = logger
	}
}

// Dispatcher turns a one-time token into persisted credentials.
// Redeeming a token is not idempotent: a token can only be exchanged once.
type Dispatcher struct {
	sm    ksm.SecretsManager
	audit zerolog.Logger
}

// NewDispatcher creates a dispatcher over sm.
func NewDispatcher(sm ksm.SecretsManager, opts ...Option) *Dispatcher {
	d := &Dispatcher{sm: sm, audit: log.Logger}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ReadToken reads and trims the one-time token stored at path.
func ReadToken(path string) (string, error) {
	// #nosec G304 -- the token path is operator configuration
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", ksmerr.NewConfigError("keeper.ksm.one_time_token", "token file not found: %s", path)
	}
	if err != nil {
		return "", ksmerr.WrapConfig(err, "keeper.ksm.one_time_token", "failure loading KSM one-time token")
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", ksmerr.NewConfigError("keeper.ksm.one_time_token", "one-time token file is empty: %s", path)
	}
	return token, nil
}

// Redeem exchanges token for application credentials.
func (d *Dispatcher) Redeem(ctx context.Context, token string) (Credentials, error) {
	creds, _, err := d.redeem(ctx, token)
	return creds, err
}

// redeem reports whether the exchange with the server was attempted, after which the token
// must be treated as spent.
func (d *Dispatcher) redeem(ctx context.Context, token string) (Credentials, bool, error) {
	storage := ksm.NewInMemoryStorage(nil)
	if err := d.sm.InitializeStorage(ctx, storage, token); err != nil {
		return Credentials{}, false, ksmerr.WrapConfig(err, "keeper.ksm.one_time_token", "failed to initialize KSM storage from the one-time token")
	}

	opts := ksm.Options{Storage: storage}
	var err error
	if d.sm.Capabilities().ConsumeToken {
		err = d.sm.ConsumeToken(ctx, opts)
	} else {
		_, err = d.sm.GetSecrets(ctx, opts, []string{redeemUID})
	}
	if err != nil {
		return Credentials{}, true, ksmerr.WrapConfig(err, "keeper.ksm.one_time_token", "failed to redeem the one-time token")
	}

	creds := FromStorage(storage)
	if missing := creds.Missing(); len(missing) > 0 {
		log.Warn().Strs("keys", missing).Msg("Redeemed KSM credentials are missing keys")
	}
	return creds, true, nil
}

// Run reads the token at tokenPath, redeems it, persists the credentials to target and deletes
// the token file. On success it returns a *ksmerr.TokenConsumedError: the process must be
// restarted without the token configured.
//
// Once the exchange has been attempted the token file is deleted even if persisting fails,
// since the token cannot be used again either way.
func (d *Dispatcher) Run(ctx context.Context, tokenPath string, target Target) error {
	if target == nil {
		return ksmerr.NewConfigError("keeper.ksm.container_type", "no persistence target selected; the one-time token was not redeemed")
	}
	token, err := ReadToken(tokenPath)
	if err != nil {
		return err
	}

	creds, err := d.redeemAndDiscard(ctx, token, tokenPath)
	if err != nil {
		return err
	}
	d.audit.Info().Str("event", "ksm.token.redeemed").Str("client_id", creds.Get(ksm.KeyClientID)).Msg("KSM one-time token redeemed")

	if err = target.Persist(ctx, creds); err != nil {
		log.Error().Err(err).Str("target", target.String()).
			Msg("KSM credentials could not be persisted. The one-time token is spent; issue a new one before retrying.")
		return err
	}
	d.audit.Info().Str("event", "ksm.credentials.persisted").Str("target", target.String()).Msg("KSM credentials persisted")

	signal := &ksmerr.TokenConsumedError{Target: target.String()}
	log.Info().Str("target", target.String()).Msg(signal.Error())
	return signal
}

func (d *Dispatcher) redeemAndDiscard(ctx context.Context, token, tokenPath string) (Credentials, error) {
	creds, attempted, err := d.redeem(ctx, token)
	if attempted {
		discardToken(tokenPath)
	}
	return creds, err
}

func discardToken(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", path).Msg("Failed to delete the one-time token file; delete it manually")
		return
	}
	log.Debug().Str("path", path).Msg("Deleted one-time token file")
}

// Load reads previously persisted credentials from target.
func Load(ctx context.Context, target Target) (Credentials, error) {
	if target == nil {
		return Credentials{}, ksmerr.NewConfigError("keeper.ksm.container_type", "no persistence target selected")
	}
	creds, err := target.Load(ctx)
	if err != nil {
		return Credentials{}, errors.WithMessagef(err, "failed to load KSM credentials from %s", target)
	}
	return creds, nil
}
