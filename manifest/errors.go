package manifest

import "errors"

// ErrKind is a stable category for programmatic error handling.
//
// Callers should branch on ErrKind/RuleID rather than matching error strings.
// Error() strings are human-readable and may evolve.
type ErrKind string

const (
	// KindMalformed covers structural failures: missing document
	// separator, undecodable body.
	KindMalformed ErrKind = "Malformed"
	// KindHeader covers violations of the restricted header grammar.
	KindHeader ErrKind = "Header"
	// KindSchema covers bodies that decode but fail per-kind validation.
	KindSchema ErrKind = "Schema"
	// KindSignature covers signatures that parse but do not verify.
	KindSignature ErrKind = "Signature"
	// KindTrust covers owner/trust failures: unsigned manifest outside a
	// trusted storage, owner not matching the verifying key.
	KindTrust ErrKind = "Trust"
)

// Error is the package's structured error type.
//
// RuleID is a stable identifier (e.g. WL-MAN-001) naming the violated
// rule. Message is intended for humans; do not match on it.
type Error struct {
	Kind    ErrKind
	RuleID  string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func newError(kind ErrKind, ruleID, msg string) error {
	return &Error{Kind: kind, RuleID: ruleID, Message: msg}
}

func wrapError(kind ErrKind, ruleID, msg string, cause error) error {
	if cause == nil {
		return newError(kind, ruleID, msg)
	}
	return &Error{Kind: kind, RuleID: ruleID, Message: msg, Cause: cause}
}

// IsKind reports whether err is (or wraps) a *Error with the given ErrKind.
func IsKind(err error, kind ErrKind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// RuleID returns the stable RuleID for a structured error, or "" if unknown.
func RuleID(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.RuleID
}
