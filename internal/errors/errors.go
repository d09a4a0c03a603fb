// Package errors provides the structured error taxonomy for the retrieval
// core. Every kind named in spec §7 maps to a Kind constant here; callers
// compare with errors.Is against the sentinel Kind errors, never by
// string-matching Error().
package errors

import "fmt"

// Kind identifies one of the error taxonomy entries from spec §7.
type Kind string

const (
	KindConfigError          Kind = "ConfigError"
	KindNotFound             Kind = "NotFound"
	KindIndexCorrupt         Kind = "IndexCorrupt"
	KindExternalUnavailable  Kind = "ExternalUnavailable"
	KindTimeout              Kind = "Timeout"
	KindCancelled            Kind = "Cancelled"
	KindParseError           Kind = "ParseError"
	KindInternal             Kind = "Internal"
)

// Error is the structured error type returned across package boundaries.
// It carries enough context for mechanical HTTP-layer translation, per
// spec §7's propagation policy.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is/errors.As to reach the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches by Kind so errors.Is(err, errors.New(KindNotFound, "", nil))
// succeeds regardless of Message/Cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithDetail attaches a key-value pair of reproduction context.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a structured error of the given kind.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Wrap creates a structured error, reusing err's message as Message.
func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return New(kind, err.Error(), err)
}

func ConfigError(msg string, cause error) *Error         { return New(KindConfigError, msg, cause) }
func NotFound(msg string, cause error) *Error            { return New(KindNotFound, msg, cause) }
func IndexCorrupt(msg string, cause error) *Error         { return New(KindIndexCorrupt, msg, cause) }
func ExternalUnavailable(msg string, cause error) *Error { return New(KindExternalUnavailable, msg, cause) }
func Timeout(msg string, cause error) *Error             { return New(KindTimeout, msg, cause) }
func Cancelled(msg string, cause error) *Error           { return New(KindCancelled, msg, cause) }
func ParseError(msg string, cause error) *Error          { return New(KindParseError, msg, cause) }
func Internal(msg string, cause error) *Error            { return New(KindInternal, msg, cause) }

// IsKind reports whether err (or any error it wraps) has the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == kind
}
