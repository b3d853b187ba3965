package errors

import "errors"

// Session errors. The auth gateway converts raw HTTP and storage outcomes
// into one of these; callers match them with errors.Is.
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrSessionExpired     = errors.New("session expired")
	ErrUnauthorizedRole   = errors.New("role not authorized for the admin dashboard")
	ErrStorageCorruption  = errors.New("stored credentials are corrupted")
)

// Server/transport errors.
var (
	ErrNetworkFailure = errors.New("backend unreachable")
	ErrAPIRequest     = errors.New("API request failed")
	ErrAPIResponse    = errors.New("unexpected API response")
)
