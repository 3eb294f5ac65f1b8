package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrStageUnavailable = errors.New("validation stage unavailable")
)

// Kind classifies a failure that is surfaced to the conversation.
type Kind string

const (
	KindResolutionUnavailable Kind = "ResolutionUnavailable"
	KindAmbiguousReference    Kind = "AmbiguousReference"
	KindUnresolvedReference   Kind = "UnresolvedReference"
	KindUnsafeAction          Kind = "UnsafeAction"
	KindRequiresConfirmation  Kind = "RequiresConfirmation"
	KindValidationDegraded    Kind = "ValidationDegraded"
	KindValidationFailed      Kind = "ValidationFailed"
	KindStaleApproval         Kind = "StaleApproval"
	KindRegistryWriteFailed   Kind = "RegistryWriteFailed"
	KindInvalidIntent         Kind = "InvalidIntent"
	KindInternal              Kind = "Internal"
)

// Error is a classified failure. Reason is short and safe to show to a user;
// Cause carries internal detail and is only ever logged.
type Error struct {
	Kind   Kind
	Reason string
	Cause  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind, so callers can
// write errors.Is(err, apperrors.New(apperrors.KindStaleApproval, "")).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && (t.Reason == "" || t.Reason == e.Reason)
}

// New creates a classified error without an underlying cause.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Wrap creates a classified error around cause.
func Wrap(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Cause: cause}
}

// KindOf extracts the Kind from err, or KindInternal when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
