package errors

import (
	"errors"
	"fmt"
	"net/http"
	"unicode/utf8"
)

// TransientError wraps an error that is likely temporary and safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or any error in its chain) is a
// TransientError, meaning the caller should retry after a backoff.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// NetworkError marks a request that never got an HTTP response. It wraps
// both ErrNetworkFailure and the underlying transport error.
func NetworkError(endpoint string, err error) error {
	return &TransientError{Err: fmt.Errorf("sending request to %s: %w: %w", endpoint, ErrNetworkFailure, err)}
}

// StatusError is a non-2xx response from the backend. Body is sanitized
// and truncated for safe inclusion in logs.
type StatusError struct {
	Endpoint string
	Code     int
	Body     string
}

// NewStatusError builds a StatusError, wrapping it in TransientError when
// the status code indicates a temporary server-side problem.
func NewStatusError(endpoint string, code int, body []byte) error {
	se := &StatusError{Endpoint: endpoint, Code: code, Body: SanitizeBody(body)}
	if IsTransientStatus(code) {
		return &TransientError{Err: se}
	}

	return se
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("API %s returned status %d", e.Endpoint, e.Code)
	}

	return fmt.Sprintf("API %s returned status %d: %s", e.Endpoint, e.Code, e.Body)
}

// Unwrap lets callers match ErrAPIRequest for any status error.
func (e *StatusError) Unwrap() error { return ErrAPIRequest }

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}

	return 0
}

// IsTransientStatus returns true for HTTP status codes that indicate a
// temporary server-side problem worth retrying.
func IsTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}

	return false
}

// SanitizeBody truncates and sanitizes a response body for inclusion in
// error messages. Limits to 256 bytes and replaces non-printable
// characters to prevent log injection.
func SanitizeBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}
