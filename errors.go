package luacord

import (
	"fmt"

	"github.com/Bloby22/luacord/internal/errs"
)

// Kind is the error taxonomy from spec.md §7.
type Kind = errs.Kind

// Error is the typed error returned by both the REST and Gateway
// engines.
type Error = errs.Error

const (
	KindNetwork          = errs.KindNetwork
	KindTimeout          = errs.KindTimeout
	KindRateLimit        = errs.KindRateLimit
	KindAuth             = errs.KindAuth
	KindValidation       = errs.KindValidation
	KindParse            = errs.KindParse
	KindCancelled        = errs.KindCancelled
	KindRedirect         = errs.KindRedirect
	KindCompression      = errs.KindCompression
	KindTLS              = errs.KindTLS
	KindCircuitOpen      = errs.KindCircuitOpen
	KindPoolExhausted    = errs.KindPoolExhausted
	KindGatewayFatal     = errs.KindGatewayFatal
	KindGatewayReconnect = errs.KindGatewayReconnect
)

// NewError builds an Error of the given Kind.
func NewError(kind Kind, message string, cause error) *Error { return errs.New(kind, message, cause) }

// Status Code Error Messages.
const (
	errStatusCodeKnown   = "status code %d: %s"
	errStatusCodeUnknown = "status code %d: unknown Discord API response"
)

// httpResponseCodes is a small, commonly-seen subset of Discord's
// documented HTTP status code meanings; domain object wrappers (full
// JSON error code tables) are out of scope per spec.md §1.
var httpResponseCodes = map[int]string{
	200: "The request completed successfully.",
	201: "The entity was created successfully.",
	204: "The request completed successfully with no content.",
	304: "The entity was not modified (no action was taken).",
	400: "The request was improperly formatted or the server couldn't understand it.",
	401: "The Authorization header was missing or invalid.",
	403: "The Authorization token does not have permission to resource.",
	404: "The resource at the location specified doesn't exist.",
	405: "The HTTP method used is not valid for the location specified.",
	429: "You've made too many requests, see Rate Limits.",
	502: "There was not a gateway available to process your request. Wait a bit and retry.",
}

// StatusCodeError maps an HTTP status code to a descriptive error.
func StatusCodeError(status int) error {
	if msg, ok := httpResponseCodes[status]; ok {
		return fmt.Errorf(errStatusCodeKnown, status, msg) //nolint:goerr113
	}

	return fmt.Errorf(errStatusCodeUnknown, status) //nolint:goerr113
}
