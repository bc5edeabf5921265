package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized is returned for 401 and 403 responses.
	ErrUnauthorized = errors.New("backend: unauthorized")

	// ErrNotFound is returned for 404 responses.
	ErrNotFound = errors.New("backend: not found")

	// ErrMalformedPayload is returned when a response body cannot be decoded.
	ErrMalformedPayload = errors.New("backend: malformed payload")
)

// StatusError reports a non-2xx response.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// Unwrap maps well-known status codes onto the package sentinels.
func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return nil
	}
}

// Unavailable reports whether err means the backend could not answer:
// a transport failure, a timeout or a 5xx response. Refusals and other 4xx
// answers, malformed payloads and cancellation are not outages.
func Unavailable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrMalformedPayload) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= http.StatusInternalServerError
	}
	return true
}
