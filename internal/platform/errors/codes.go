// Package errors provides structured error handling for the broker core.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Authorization errors
	CodeUnauthorized Code = "UNAUTHORIZED"

	// Validation errors
	CodeInvalidInput Code = "INVALID_INPUT"
	CodeUnknownRoute Code = "UNKNOWN_ROUTE"
	CodeUnknownMask  Code = "UNKNOWN_MASK"

	// Persisted state errors
	CodeInvariantViolation Code = "INVARIANT_VIOLATION"
	CodeNotFound           Code = "NOT_FOUND"

	// Cross-window errors
	CodePeerUnreachable  Code = "PEER_UNREACHABLE"
	CodeWindowOpenFailed Code = "WINDOW_OPEN_FAILED"
)

// Fatal reports whether errors with this code mean the persisted state can no
// longer be trusted.
func (c Code) Fatal() bool {
	return c == CodeInvariantViolation
}

// CallerError reports whether the code is returned to the immediate caller as
// a structured, recoverable failure.
func (c Code) CallerError() bool {
	switch c {
	case CodeUnauthorized,
		CodeInvalidInput,
		CodeUnknownRoute,
		CodeUnknownMask,
		CodeNotFound:
		return true
	default:
		return false
	}
}
