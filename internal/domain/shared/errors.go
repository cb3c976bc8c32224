// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")
	ErrInvalidEntity = errors.New("invalid entity")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	// State errors
	ErrInvalidState = errors.New("invalid state")
	ErrExpired      = errors.New("expired")
	ErrOnCooldown   = errors.New("subject is on cooldown")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
	ErrRateLimited        = errors.New("rate limited")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "progression", "grant", "rank"
	Op      string // Operation that failed, e.g., "Accumulate", "Sweep"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Progression domain errors
var (
	ErrProgressionNotFound = NewDomainError("progression", "Read", ErrNotFound, "progression row not found")
	ErrNegativeExperience  = NewDomainError("progression", "Validate", ErrNegativeValue, "experience cannot be negative")
	ErrMalformedSignal     = NewDomainError("progression", "Validate", ErrInvalidInput, "malformed activity signal")
	ErrInvalidGuildID      = NewDomainError("progression", "Validate", ErrInvalidID, "invalid guild ID")
	ErrInvalidMemberID     = NewDomainError("progression", "Validate", ErrInvalidID, "invalid member ID")
)

// Grant domain errors
var (
	ErrGrantNotFound        = NewDomainError("grant", "Find", ErrNotFound, "grant not found")
	ErrUnknownGrantKind     = NewDomainError("grant", "Validate", ErrInvalidInput, "unknown grant kind")
	ErrHandlerNotRegistered = NewDomainError("grant", "Dispatch", ErrInvalidState, "no handler registered for grant kind")
	ErrInvalidMagnitude     = NewDomainError("grant", "Validate", ErrValueOutOfRange, "multiplier magnitude out of range")
)

// Rank domain errors
var (
	ErrThresholdNotFound = NewDomainError("rank", "Find", ErrNotFound, "rank threshold not found")
	ErrInvalidThreshold  = NewDomainError("rank", "Validate", ErrInvalidInput, "invalid rank threshold")
)
