package bridge

import "errors"

// Bridge errors surfaced to callers, checked with errors.Is().
var (
	// ErrNotConnected is returned when an operation requires an active
	// gateway connection and mock mode is unavailable.
	ErrNotConnected = errors.New("bridge: gateway not connected")

	// ErrCommandUnsupported is returned when no capability on the target
	// device matches the requested command.
	ErrCommandUnsupported = errors.New("bridge: command not supported by device")
)
