// Package synerr defines the error taxonomy shared by the local store, the
// sync engine, and the facade. It mirrors the code/message shape the teacher
// uses for its HTTP error responses (internal/api/errors.go's APIError),
// but as a wrapped Go error rather than a JSON wire type.
package synerr

import "fmt"

// Kind classifies an error without binding callers to a specific message
// string. Kind values serialize to the snake_case strings used in log
// fields and (for transport-surfaced kinds) wire error codes.
type Kind string

const (
	NotInitialized    Kind = "not_initialized"
	NetworkFailure    Kind = "network_failure"
	StorageFailure    Kind = "storage_failure"
	ConflictUnresolved Kind = "conflict_unresolved"
	EntityNotFound    Kind = "entity_not_found"
	Validation        Kind = "validation"
	Auth              Kind = "auth"
	Permission        Kind = "permission"
	RateLimited       Kind = "rate_limited"
	Timeout           Kind = "timeout"
)

// Error is the concrete error type returned by store/engine/facade
// operations. Callers should compare against a Kind with errors.As, not
// against the message text.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a *Error wrapping an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Is reports whether err is a *Error of the given kind. Supports errors.Is
// unwrapping through any number of fmt.Errorf("...: %w", err) layers.
func Is(err error, kind Kind) bool {
	for err != nil {
		if se, ok := err.(*Error); ok {
			return se.Kind == kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
