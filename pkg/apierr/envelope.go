// Package apierr defines the result envelope returned from every endpoint
// call in the platform: a tagged union of a result, an error, or an expired
// marker, with an optional warning riding alongside a result.
package apierr

import "fmt"

// Kind classifies an Error without requiring callers to string-match
// messages.
type Kind string

const (
	KindUnauthenticated Kind = "unauthenticated"
	KindExpired         Kind = "expired"
	KindUnauthorized    Kind = "unauthorized"
	KindInvalidInput    Kind = "invalid_input"
	KindInvalidOutput   Kind = "invalid_output"
	KindInvalidClaims   Kind = "invalid_claims"
	KindSchemaNotFound  Kind = "schema_not_found"
	KindHandlerError    Kind = "handler_error"
	KindTransportError  Kind = "transport_error"
)

// Validation carries the location of a schema validation failure.
type Validation struct {
	Path     string `json:"path"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

// Error is the structured error carried by an Envelope.
type Error struct {
	Kind       Kind        `json:"kind"`
	Message    string      `json:"message"`
	Validation *Validation `json:"validation,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New builds an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithValidation attaches validation detail to an Error and returns it.
func (e *Error) WithValidation(v *Validation) *Error {
	e.Validation = v
	return e
}

// Envelope is the tagged-union result of an endpoint call. Exactly one of
// Result, Error, or Expired is set; Warning may accompany Result.
type Envelope struct {
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	Expired string `json:"expired,omitempty"`
	Warning *Error `json:"warning,omitempty"`
}

// Ok wraps a successful result.
func Ok(result any) Envelope {
	return Envelope{Result: result}
}

// Fail wraps an Error.
func Fail(err *Error) Envelope {
	return Envelope{Error: err}
}

// ExpiredEnvelope marks a request rejected for an expired token/claim.
func ExpiredEnvelope(reason string) Envelope {
	return Envelope{Expired: reason}
}

// WithWarning attaches a non-fatal warning to a successful Envelope.
func (e Envelope) WithWarning(w *Error) Envelope {
	e.Warning = w
	return e
}

// IsError reports whether the envelope carries a terminal error or expiry.
func (e Envelope) IsError() bool {
	return e.Error != nil || e.Expired != ""
}
