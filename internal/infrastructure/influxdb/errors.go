package influxdb

import "errors"

// Sentinel errors for the metrics backend; match with errors.Is.
var (
	ErrNotConnected     = errors.New("influxdb: not connected")
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled is returned by Connect when the influxdb section of
	// config.yaml has enabled: false.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
