package pipeline

import (
	"errors"
	"fmt"
)

// ErrMissingID is wrapped when a response decodes but carries no "id".
var ErrMissingID = errors.New(`response has no "id" field`)

// StatusError records an API response with an unexpected status code.
type StatusError struct {
	// Op names the call, e.g. "resolve repository id".
	Op         string
	StatusCode int
	Body       string
}

// Error satisfies the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
}

// StatusCodeOf returns the HTTP status carried by err, or 0 when err does
// not wrap a *StatusError.
func StatusCodeOf(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}
