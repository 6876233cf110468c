package auth

import (
	"fmt"
	"sort"
	"strings"
)

// TokenErrorReason classifies why a token was rejected.
type TokenErrorReason string

const (
	TokenMalformed    TokenErrorReason = "malformed"
	TokenBadSignature TokenErrorReason = "bad_signature"
	TokenExpired      TokenErrorReason = "expired"
)

// InvalidTokenError is returned when a presented token cannot be accepted.
// All reasons reject the request; callers may log them distinctly.
type InvalidTokenError struct {
	Reason TokenErrorReason
}

func (e *InvalidTokenError) Error() string {
	return fmt.Sprintf("invalid token: %s", e.Reason)
}

// ValidationError carries per-field messages for rejected input. All field
// checks run before the error is returned, so it reports every failing
// field, not just the first.
type ValidationError struct {
	Fields map[string][]string
}

func NewValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string][]string)}
}

// Add appends a message for the given field.
func (e *ValidationError) Add(field, message string) {
	e.Fields[field] = append(e.Fields[field], message)
}

// HasErrors reports whether any field message was added.
func (e *ValidationError) HasErrors() bool {
	return len(e.Fields) > 0
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Fields))
	for f := range e.Fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fmt.Sprintf("validation failed: %s", strings.Join(fields, ", "))
}

// AuthenticationError is returned when credentials do not authenticate.
// The message for unknown phone numbers and wrong passwords is identical
// so responses do not reveal whether an account exists.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return e.Reason
}

const (
	// ReasonInvalidCredentials covers both unknown phone number and wrong password.
	ReasonInvalidCredentials = "A user with this phone_number and password was not found."
	// ReasonInactiveAccount is only reachable with correct credentials, so the
	// more specific message leaks nothing to guessers.
	ReasonInactiveAccount = "This user has been deactivated."
)

// ConflictError surfaces a storage uniqueness violation hit by a concurrent
// write that passed application-level pre-checks.
type ConflictError struct {
	Field string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s already taken", e.Field)
}
