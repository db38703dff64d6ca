package search

import (
	"errors"
	"fmt"
)

// Common errors returned by Index implementations.
var (
	// ErrTransport is returned when the backend cannot be reached or answers
	// with a server error.
	ErrTransport = errors.New("search: transport")

	// ErrIndexNotFound is returned when a partition does not exist.
	ErrIndexNotFound = errors.New("search: index not found")

	// ErrAlreadyExists is returned by setup calls whose target already exists.
	ErrAlreadyExists = errors.New("search: already exists")

	// ErrBadResponse is returned when a response cannot be decoded.
	ErrBadResponse = errors.New("search: bad response")
)

// ResponseError is an error answered by the backend.
type ResponseError struct {
	Op     string
	Status int
	Reason string
	Err    error
}

func (e *ResponseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("search: %s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("search: %s: status %d: %s", e.Op, e.Status, e.Reason)
}

func (e *ResponseError) Unwrap() error { return e.Err }

// IsTransient reports whether err is expected to heal on a later pass.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransport)
}
