package stomp

import "errors"

// Domain-specific errors for the live feed transport.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrInvalidFrame is returned when a payload cannot be decoded as a STOMP frame.
	ErrInvalidFrame = errors.New("stomp: invalid frame")

	// ErrDialFailed is returned when the WebSocket connection cannot be opened.
	ErrDialFailed = errors.New("stomp: dial failed")

	// ErrNotConnected is returned when sending on a connection that is not live.
	ErrNotConnected = errors.New("stomp: not connected")

	// ErrAlreadyStarted is returned when Start is called twice on the same Client.
	// A Client represents a single connection; create a new one to reconnect.
	ErrAlreadyStarted = errors.New("stomp: client already started")

	// ErrClosed is returned when Start is called after Close.
	ErrClosed = errors.New("stomp: client closed")

	// ErrSendFailed is returned when a frame cannot be written to the socket.
	ErrSendFailed = errors.New("stomp: send failed")
)
