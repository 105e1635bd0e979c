package session

import "errors"

// Domain-specific errors for session operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrCommandRejected is returned when the portal answers a control
	// command with a status other than "success".
	ErrCommandRejected = errors.New("session: command rejected")

	// ErrNotLoggedIn is returned when a portal fetch is attempted before Login.
	ErrNotLoggedIn = errors.New("session: not logged in")

	// ErrNoConfiguration is returned when the live feed is started before
	// GetConfiguration has loaded at least one device.
	ErrNoConfiguration = errors.New("session: no devices configured")

	// ErrClosed is returned when the controller has been shut down.
	ErrClosed = errors.New("session: controller closed")
)
