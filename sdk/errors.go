package ward

import (
	"errors"
	"fmt"
)

// Sentinel errors for use with errors.Is().
var (
	// ErrUnreachable is returned when the backend cannot be contacted.
	ErrUnreachable = errors.New("backend unreachable")

	// ErrAPI is returned when the backend answers with a non-2xx status.
	ErrAPI = errors.New("backend error")
)

// ConnectivityError is returned when the backend cannot be contacted at the
// transport level (DNS, connection refused, timeout). Callers should degrade
// the affected feed and retry on the next scheduled tick.
type ConnectivityError struct {
	// Op names the failed operation (e.g. "policy status").
	Op string
	// Cause is the underlying transport error.
	Cause error
}

// Error returns a human-readable description of the connectivity failure.
func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("%s: backend unreachable: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying transport error.
func (e *ConnectivityError) Unwrap() error {
	return e.Cause
}

// Is reports whether this error matches the target error.
// It supports errors.Is(err, ErrUnreachable).
func (e *ConnectivityError) Is(target error) bool {
	return target == ErrUnreachable
}

// APIError is returned when the backend answers with a non-2xx status.
// The body is carried verbatim so server-side validation messages can be
// surfaced to the user unchanged.
type APIError struct {
	// Op names the failed operation.
	Op string
	// StatusCode is the HTTP status the backend returned.
	StatusCode int
	// Body is the raw response body.
	Body string
}

// Error returns a human-readable description of the API failure.
func (e *APIError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s: backend returned %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: backend returned %d", e.Op, e.StatusCode)
}

// Is reports whether this error matches the target error.
// It supports errors.Is(err, ErrAPI).
func (e *APIError) Is(target error) bool {
	return target == ErrAPI
}
