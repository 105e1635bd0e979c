package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when no device has the requested id or serial.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrProtocolViolation is returned when a snapshot payload or live frame
	// does not have the shape the portal is known to send.
	ErrProtocolViolation = errors.New("device: protocol violation")
)
