package sensor

import "errors"

var (
	// ErrDeviceUnreachable covers connect failures, link drops and timeouts.
	// The sensor is retried next cycle.
	ErrDeviceUnreachable = errors.New("sensor: device unreachable")
	// ErrProtocol means the device answered with something we cannot decode.
	ErrProtocol = errors.New("sensor: protocol error")
	// ErrNoData means the device reported zero buffered data points. It is
	// always wrapped together with ErrProtocol.
	ErrNoData = errors.New("sensor: no data points available")
)
