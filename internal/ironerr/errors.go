// Package ironerr defines the typed error-kind taxonomy shared across the
// runtime so callers can branch on failure category instead of string
// matching, and so retry policy can be derived mechanically from the kind.
package ironerr

import (
	"errors"
	"fmt"
)

// Kind categorizes an error for retry logic and operator-facing reporting.
type Kind string

const (
	KindConfig          Kind = "config"
	KindIO              Kind = "io"
	KindPolicyDenied    Kind = "policy.denied"
	KindPolicyAmbiguous Kind = "policy.ambiguous"
	KindSandboxTrap     Kind = "sandbox.trap"
	KindSandboxFuel     Kind = "sandbox.fuel_exhausted"
	KindSandboxTimeout  Kind = "sandbox.timeout"
	KindSandboxOOM      Kind = "sandbox.oom"
	KindSecretLeak      Kind = "security.secret_leak"
	KindGuardBlocked    Kind = "guard.blocked"
	KindGuardTimeout    Kind = "guard.timeout"
	KindCycle           Kind = "cycle"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindValidation      Kind = "validation_error"
	KindLLMRateLimit    Kind = "llm_error.rate_limit"
	KindLLMOverloaded   Kind = "llm_error.overloaded"
	KindLLMInvalid      Kind = "llm_error.invalid_request"
	KindIntegrity       Kind = "integrity.violation"
	KindUnknown         Kind = "unknown"
)

// retryable lists kinds that are safe to retry without operator intervention.
var retryable = map[Kind]bool{
	KindIO:            true,
	KindGuardTimeout:  true,
	KindLLMRateLimit:  true,
	KindLLMOverloaded: true,
}

// Error is the structured error type produced by ironclaw components.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether the error's kind is considered safe to retry.
func (e *Error) Retryable() bool { return retryable[e.Kind] }

// New constructs an Error with the given kind, operation, and message.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap attaches a kind and operation to an underlying error.
func Wrap(kind Kind, op string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Message: cause.Error(), Cause: cause}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, or KindUnknown if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err, if an *Error, is safe to retry.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}
