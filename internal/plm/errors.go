package plm

import "errors"

// Package errors, checked with errors.Is().
var (
	// ErrNoDriver is returned by Connect when no gateway driver has been
	// registered. The supervisor treats it like any connect failure.
	ErrNoDriver = errors.New("plm: no gateway driver registered")

	// ErrClosed is returned by gateway operations after Close.
	ErrClosed = errors.New("plm: gateway closed")

	// ErrUnknownCapability is returned by Invoker implementations when a
	// capability name does not exist on the device. The command
	// dispatcher maps it to an unsupported-command error.
	ErrUnknownCapability = errors.New("plm: unknown capability")
)
