// Package ksmerr defines the error kinds surfaced by the Keeper Secrets Manager integration.
//
// Every error carries its cause, reachable through errors.Cause (github.com/pkg/errors) or
// the standard errors.Unwrap chain, so hosts can log the full chain once at the boundary.
package ksmerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// ConfigError reports a missing, malformed or contradictory configuration value.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

// Error returns the message, prefixed with the field when set and followed by the cause.
func (e *ConfigError) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Cause() error  { return e.Err }
func (e *ConfigError) Unwrap() error { return e.Err }

// IOError reports a failure reading or writing a persistence target.
type IOError struct {
	Op     string
	Target string
	Err    error
}

// Error names the operation and the location.
func (e *IOError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s", e.Op, e.Target)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Target, e.Err)
}

func (e *IOError) Cause() error  { return e.Err }
func (e *IOError) Unwrap() error { return e.Err }

// ComplianceError is raised when a strict-mode compliance check fails.
// Failures lists every failed check; Error reports the first one.
type ComplianceError struct {
	Check    string
	Message  string
	Failures []string
}

// Error returns the first failure and how many others there were.
func (e *ComplianceError) Error() string {
	if len(e.Failures) > 1 {
		return fmt.Sprintf("%s (and %d more compliance failure(s))", e.Message, len(e.Failures)-1)
	}
	return e.Message
}

// ResolutionError reports a record specifier that could not be resolved to a record UID.
type ResolutionError struct {
	Specifier string
	Message   string
}

func (e *ResolutionError) Error() string { return e.Message }

// TokenConsumedError is the signal returned after a one-time token has been redeemed and the
// credentials persisted. It is not a failure: the caller must stop and restart without the token.
type TokenConsumedError struct {
	Target string
}

const tokenConsumedMessage = "One-time token consumed. Remove the property 'keeper.ksm.one_time_token' and restart the application."

// Error tells the operator to remove the token and restart.
func (e *TokenConsumedError) Error() string { return tokenConsumedMessage }

// NewConfigError builds a ConfigError for field.
func NewConfigError(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// WrapConfig wraps err into a ConfigError.
func WrapConfig(err error, field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message, Err: err}
}

// WrapIO wraps err into an IOError.
func WrapIO(err error, op, target string) *IOError {
	return &IOError{Op: op, Target: target, Err: err}
}

// IsTokenConsumed reports whether err, or any error in its chain, is the token-consumed signal.
func IsTokenConsumed(err error) bool {
	var tc *TokenConsumedError
	return errors.As(err, &tc)
}

// IsCompliance reports whether err carries a ComplianceError.
func IsCompliance(err error) bool {
	var ce *ComplianceError
	return errors.As(err, &ce)
}

// IsConfig reports whether err carries a ConfigError.
func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
