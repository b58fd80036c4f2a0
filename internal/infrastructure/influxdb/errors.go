package influxdb

import "errors"

var (
	// ErrUnreachable is returned when the server does not answer a ping.
	ErrUnreachable = errors.New("influxdb: server unreachable")

	// ErrClosed is returned by Ping after Close.
	ErrClosed = errors.New("influxdb: writer closed")
)
