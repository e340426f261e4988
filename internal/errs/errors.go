// Package errs holds the typed error taxonomy shared by the rest,
// gateway and root packages (spec.md §7). It lives under internal so
// both rest and gateway can depend on it without either depending on
// the root package, which in turn depends on both of them.
package errs

import (
	"fmt"

	"golang.org/x/xerrors"
)

// Kind is the error taxonomy from spec.md §7.
type Kind int

const (
	KindNetwork Kind = iota
	KindTimeout
	KindRateLimit
	KindAuth
	KindValidation
	KindParse
	KindCancelled
	KindRedirect
	KindCompression
	KindTLS
	KindCircuitOpen
	KindPoolExhausted
	KindGatewayFatal
	KindGatewayReconnect
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "NETWORK"
	case KindTimeout:
		return "TIMEOUT"
	case KindRateLimit:
		return "RATE_LIMIT"
	case KindAuth:
		return "AUTH"
	case KindValidation:
		return "VALIDATION"
	case KindParse:
		return "PARSE"
	case KindCancelled:
		return "CANCELLED"
	case KindRedirect:
		return "REDIRECT"
	case KindCompression:
		return "COMPRESSION"
	case KindTLS:
		return "TLS"
	case KindCircuitOpen:
		return "CIRCUIT_OPEN"
	case KindPoolExhausted:
		return "POOL_EXHAUSTED"
	case KindGatewayFatal:
		return "GATEWAY_FATAL"
	case KindGatewayReconnect:
		return "GATEWAY_RECONNECT"
	default:
		return "UNKNOWN"
	}
}

// retriableKinds mirrors spec.md §7's propagation policy: the kinds an
// engine is allowed to recover from locally rather than surface.
var retriableKinds = map[Kind]bool{
	KindRateLimit: true,
	KindNetwork:   true,
	KindTimeout:   true,
}

// Error is the typed error returned by both the REST and Gateway
// engines, carrying enough context to log or re-decide a retry.
type Error struct {
	Kind       Kind
	Status     int // HTTP status, 0 if not applicable
	Message    string
	RouteID    string
	RequestID  string
	Attempt    int
	RetryAfter float64 // seconds, set for KindRateLimit
	Err        error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d) [route=%s request=%s attempt=%d]: %s",
			e.Kind, e.Status, e.RouteID, e.RequestID, e.Attempt, e.Message)
	}

	return fmt.Sprintf("%s [route=%s request=%s attempt=%d]: %s", e.Kind, e.RouteID, e.RequestID, e.Attempt, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retriable reports whether an engine may recover from this error
// locally instead of surfacing it to the caller (spec.md §7).
func (e *Error) Retriable() bool { return retriableKinds[e.Kind] }

// New builds an Error, wrapping cause with xerrors to preserve a stack
// frame for the one propagation path spec.md calls out as surfaced to
// user code unconditionally: GATEWAY_FATAL.
func New(kind Kind, message string, cause error) *Error {
	err := &Error{Kind: kind, Message: message, Err: cause}
	if kind == KindGatewayFatal && cause != nil {
		err.Err = xerrors.Errorf("gateway fatal close: %w", cause)
	}

	return err
}
