// Package apperr implements the error taxonomy described in spec §7:
// NotFound, Transient, Protocol, Fatal. It is deliberately built on the
// standard library (errors.Is/As, fmt.Errorf) rather than a third-party
// errors package: no example repo in the retrieval pack models a bespoke
// error-classification library, and wrapping/classification is exactly
// what errors.Is/As already does well.
package apperr

import "errors"

// Kind classifies an error for retry and user-facing-surfacing decisions.
type Kind int

const (
	KindNotFound Kind = iota
	KindTransient
	KindProtocol
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	case KindProtocol:
		return "protocol"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// NotFound, Transient, Protocol, and Fatal construct a classified Error.
func NotFound(msg string, cause error) error  { return &Error{Kind: KindNotFound, Msg: msg, Err: cause} }
func Transient(msg string, cause error) error { return &Error{Kind: KindTransient, Msg: msg, Err: cause} }
func Protocol(msg string, cause error) error  { return &Error{Kind: KindProtocol, Msg: msg, Err: cause} }
func Fatal(msg string, cause error) error    { return &Error{Kind: KindFatal, Msg: msg, Err: cause} }

// Is reports whether the first *Error in err's chain has the given Kind;
// an *Error wrapped inside another *Error is not examined.
func Is(err error, kind Kind) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}

// IsNotFound, IsTransient, IsProtocol, IsFatal are convenience wrappers.
func IsNotFound(err error) bool  { return Is(err, KindNotFound) }
func IsTransient(err error) bool { return Is(err, KindTransient) }
func IsProtocol(err error) bool  { return Is(err, KindProtocol) }
func IsFatal(err error) bool     { return Is(err, KindFatal) }
