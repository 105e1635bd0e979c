package bridge

import "errors"

// Domain errors for the MQTT bridge.
var (
	// ErrInvalidPayload is returned for a command payload that is not a
	// recognised switch value.
	ErrInvalidPayload = errors.New("bridge: invalid command payload")

	// ErrUnknownCommand is returned for a topic that is not a command topic.
	ErrUnknownCommand = errors.New("bridge: unknown command topic")
)
