package device

import "errors"

// Domain errors for the device package, checked with errors.Is().
var (
	// ErrDeviceNotFound is returned when a device id is known to neither
	// the live handle map nor the snapshot cache.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrEmptyID is returned when an operation is given an empty id.
	ErrEmptyID = errors.New("device: id required")
)
