package verification

import (
	"errors"
	"fmt"

	"github.com/fatflowers/entitler/pkg/types"
)

type ErrorKind string

const (
	ErrorKindMalformed           ErrorKind = "malformed"
	ErrorKindAuthFailed          ErrorKind = "auth_failed"
	ErrorKindServerUnavailable   ErrorKind = "server_unavailable"
	ErrorKindExpired             ErrorKind = "expired"
	ErrorKindEnvironmentMismatch ErrorKind = "environment_mismatch"
	ErrorKindInvalidSignature    ErrorKind = "invalid_signature"
	ErrorKindNotPurchased        ErrorKind = "not_purchased"
	ErrorKindUnsupportedProduct  ErrorKind = "unsupported_product"
	ErrorKindUnknown             ErrorKind = "unknown"
)

// Error is the result of a failed verification. Only server_unavailable is
// worth retrying; every other kind is terminal.
type Error struct {
	Kind     ErrorKind
	Provider types.PaymentProvider
	Op       string
	// Code is the rail status code when there is one.
	Code int
	Err  error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Provider, e.Op, e.Kind)
	if e.Code != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Code)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Retryable() bool { return e.Kind == ErrorKindServerUnavailable }

func newError(kind ErrorKind, provider types.PaymentProvider, op string, err error) *Error {
	return &Error{Kind: kind, Provider: provider, Op: op, Err: err}
}

// KindOf returns the verification error kind of err, or "" when err is not a
// verification error.
func KindOf(err error) ErrorKind {
	var verr *Error
	if errors.As(err, &verr) {
		return verr.Kind
	}
	return ""
}

func IsRetryable(err error) bool {
	var verr *Error
	return errors.As(err, &verr) && verr.Retryable()
}
