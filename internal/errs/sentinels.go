// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
)

// Common sentinels across client layers.
var (
	// ErrValidation indicates client-side field validation failed; the network was not touched.
	ErrValidation = errors.New("validation failed")

	// ErrAuthentication indicates the backend rejected the request (4xx class).
	ErrAuthentication = errors.New("authentication failed")

	// ErrConflict indicates registration against an identity that already exists.
	ErrConflict = errors.New("already exists")

	// ErrTimeout indicates no response arrived within the deadline.
	ErrTimeout = errors.New("request timed out")

	// ErrNetwork indicates a transport-level failure.
	ErrNetwork = errors.New("network error")

	// ErrUnexpectedResponse indicates a response missing required fields or not decodable.
	ErrUnexpectedResponse = errors.New("unexpected response")

	// ErrRateLimited indicates the backend temporarily locked login attempts.
	ErrRateLimited = errors.New("rate limited")

	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotAuthenticated indicates the operation requires an authenticated session.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrForbidden indicates the session role does not allow the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrBusy indicates a login or register attempt is already in flight.
	ErrBusy = errors.New("authentication already in progress")

	// ErrCorruptStorage indicates a stored session record cannot be parsed or decrypted.
	ErrCorruptStorage = errors.New("corrupt session storage")
)

// ValidationError is a field-level form error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Is makes errors.Is(err, ErrValidation) hold for every ValidationError.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// APIError is a classified backend failure. Kind is one of the sentinels above.
type APIError struct {
	Kind    error
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Status != 0 {
		return fmt.Sprintf("%v (http %d)", e.Kind, e.Status)
	}
	return e.Kind.Error()
}

func (e *APIError) Unwrap() error { return e.Kind }

// Message returns the human readable text for err, preferring backend-provided messages.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Message
	}
	var ae *APIError
	if errors.As(err, &ae) {
		switch {
		case ae.Message != "":
			return ae.Message
		case errors.Is(ae.Kind, ErrTimeout):
			return "Request timed out. Please check your connection and try again."
		case errors.Is(ae.Kind, ErrConflict):
			return "User already exists with this email."
		}
	}
	return err.Error()
}
