// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
)

// Server-side sentinels shared by repositories, services and the transport.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates temporary sign-in lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., email taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidArgument indicates a request failed validation.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Client-side taxonomy raised by the state holders.
var (
	// ErrNotConfigured means the backend endpoint or key is missing; no network call was made.
	ErrNotConfigured = errors.New("backend is not configured: set QRMEDIA_URL and QRMEDIA_KEY")

	// ErrAuthRequired means a mutating operation was invoked without a signed-in user.
	ErrAuthRequired = errors.New("user not authenticated")

	// ErrNoRowReturned means the backend reported success but returned no row where one was expected.
	ErrNoRowReturned = errors.New("no data returned from backend")

	// ErrNoCurrentEvent means a capture was attempted before an event was selected.
	ErrNoCurrentEvent = errors.New("no current event selected")
)

// BackendError is a remote call that completed but reported failure.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *BackendError) Unwrap() error { return e.Err }

// Backend wraps err as a *BackendError for op. A nil err stays nil.
func Backend(op string, err error) error {
	if err == nil {
		return nil
	}
	return &BackendError{Op: op, Err: err}
}

// IsBackend reports whether err carries a *BackendError.
func IsBackend(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}
