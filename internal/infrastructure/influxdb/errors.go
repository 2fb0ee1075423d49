package influxdb

import "errors"

// Sentinel errors for InfluxDB operations.
// Check with errors.Is.
var (
	// ErrDisabled indicates InfluxDB recording is turned off in config.
	ErrDisabled = errors.New("influxdb disabled in configuration")

	// ErrConnectionFailed indicates the initial connection could not be
	// established.
	ErrConnectionFailed = errors.New("influxdb connection failed")

	// ErrNotConnected indicates an operation was attempted on a closed
	// or never-connected client.
	ErrNotConnected = errors.New("influxdb not connected")
)
