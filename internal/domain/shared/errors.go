// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// ══════════════════════════════════════════════════════════════════════════════
// KINDS
// ══════════════════════════════════════════════════════════════════════════════

// Error kinds. Every domain error matches exactly one of them with errors.Is;
// the transport layer maps kinds to status codes.
var (
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("validation error")
	ErrInvalidState        = errors.New("invalid state")
	ErrConflict            = errors.New("conflict")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// Refinements. Each wraps its kind, so errors.Is(ErrInvalidID, ErrValidation)
// holds.
var (
	ErrInvalidID       = fmt.Errorf("%w: invalid id", ErrValidation)
	ErrInvalidInput    = fmt.Errorf("%w: invalid input", ErrValidation)
	ErrNegativeValue   = fmt.Errorf("%w: negative value", ErrValidation)
	ErrValueOutOfRange = fmt.Errorf("%w: value out of range", ErrValidation)

	ErrStateTransition = fmt.Errorf("%w: transition not allowed", ErrInvalidState)

	ErrAlreadyExists          = fmt.Errorf("%w: already exists", ErrConflict)
	ErrConcurrentModification = fmt.Errorf("%w: concurrent modification", ErrConflict)
)

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN ERROR
// ══════════════════════════════════════════════════════════════════════════════

// DomainError says where an operation failed (Domain, Op), what kind of
// failure it was (Kind) and, optionally, what caused it (Err). Message is
// safe to show to API clients.
type DomainError struct {
	Domain  string
	Op      string
	Kind    error
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	msg := e.Domain + "." + e.Op + ": " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *DomainError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewDomainError creates a DomainError without a cause.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message}
}

// WrapError creates a DomainError caused by err.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message, Err: err}
}

// Validationf is NewDomainError with ErrValidation and a formatted message.
func Validationf(domain, op, format string, args ...any) *DomainError {
	return NewDomainError(domain, op, ErrValidation, fmt.Sprintf(format, args...))
}

// ══════════════════════════════════════════════════════════════════════════════
// PREDICATES
// ══════════════════════════════════════════════════════════════════════════════

func IsNotFound(err error) bool            { return errors.Is(err, ErrNotFound) }
func IsValidation(err error) bool          { return errors.Is(err, ErrValidation) }
func IsInvalidState(err error) bool        { return errors.Is(err, ErrInvalidState) }
func IsConflict(err error) bool            { return errors.Is(err, ErrConflict) }
func IsUpstreamUnavailable(err error) bool { return errors.Is(err, ErrUpstreamUnavailable) }
