package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies every rejection the core can produce.
type ErrorKind string

// Error kinds surfaced to callers.
const (
	KindUnauthorized      ErrorKind = "Unauthorized"
	KindInvalidTransition ErrorKind = "InvalidTransition"
	KindTerminalState     ErrorKind = "TerminalState"
	KindValidationFailure ErrorKind = "ValidationFailure"
	KindDuplicateConflict ErrorKind = "DuplicateConflict"
	KindCorruptLedger     ErrorKind = "CorruptLedger"
	KindNotFound          ErrorKind = "NotFound"
)

// Error is the typed rejection returned by domain and core operations.
// Field is set for ValidationFailure, Role for Unauthorized and Sequence for
// CorruptLedger (the first mismatched ledger entry).
type Error struct {
	Kind     ErrorKind
	Field    string
	Role     Role
	Sequence int64
	Message  string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(string(e.Kind))
	switch {
	case e.Field != "":
		fmt.Fprintf(&b, " (field %s)", e.Field)
	case e.Role != "":
		fmt.Fprintf(&b, " (role %s)", e.Role)
	case e.Sequence > 0:
		fmt.Fprintf(&b, " (sequence %d)", e.Sequence)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// Is matches another *Error with the same kind so errors.Is works against the
// sentinel values below.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind && other.Field == "" && other.Message == ""
}

// Sentinels for errors.Is comparisons.
var (
	ErrUnauthorized      = &Error{Kind: KindUnauthorized}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrTerminalState     = &Error{Kind: KindTerminalState}
	ErrValidationFailure = &Error{Kind: KindValidationFailure}
	ErrDuplicateConflict = &Error{Kind: KindDuplicateConflict}
	ErrCorruptLedger     = &Error{Kind: KindCorruptLedger}
	ErrNotFound          = &Error{Kind: KindNotFound}
)

// KindOf extracts the ErrorKind from err, returning "" for foreign errors.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// Unauthorized builds an Unauthorized error naming the offending role.
func Unauthorized(role Role, format string, args ...any) *Error {
	return &Error{Kind: KindUnauthorized, Role: role, Message: fmt.Sprintf(format, args...)}
}

// Invalid builds a ValidationFailure for the named field.
func Invalid(field, format string, args ...any) *Error {
	return &Error{Kind: KindValidationFailure, Field: field, Message: fmt.Sprintf(format, args...)}
}

// Corrupt builds a CorruptLedger error pinned to the first bad sequence number.
func Corrupt(seq int64, format string, args ...any) *Error {
	return &Error{Kind: KindCorruptLedger, Sequence: seq, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a NotFound error for the given entity id.
func NotFound(entity EntityType, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %s not found", entity, id)}
}

// Conflict builds a DuplicateConflict error.
func Conflict(format string, args ...any) *Error {
	return newError(KindDuplicateConflict, format, args...)
}

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ErrorFromViolation converts a blocking rule violation into a typed error.
func ErrorFromViolation(v Violation) *Error {
	kind := v.Kind
	if kind == "" {
		kind = KindValidationFailure
	}
	return &Error{Kind: kind, Field: v.Field, Sequence: v.Sequence, Message: v.Message}
}
