package portal

import "errors"

// Domain-specific errors for portal HTTP operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrLoginFailed is returned when the login page has no CSRF token or
	// the login response is not the signed-in dashboard.
	ErrLoginFailed = errors.New("portal: login failed")

	// ErrUnexpectedStatus is returned for any non-2xx HTTP response.
	ErrUnexpectedStatus = errors.New("portal: unexpected HTTP status")

	// ErrDecode is returned when a response body cannot be decoded.
	ErrDecode = errors.New("portal: undecodable response")
)
