package serial

import (
	"errors"
	"strings"

	goserial "go.bug.st/serial"
)

var (
	// ErrOpenFailed is returned when the serial device cannot be opened.
	ErrOpenFailed = errors.New("serial: open failed")

	// ErrReadFailed is returned when reading from the device fails.
	ErrReadFailed = errors.New("serial: read failed")

	// ErrWriteFailed is returned when writing to the device fails.
	ErrWriteFailed = errors.New("serial: write failed")
)

// IsDisconnected reports whether err means the device went away
// (unplugged, closed, or no longer a tty) rather than a transient fault.
func IsDisconnected(err error) bool {
	if err == nil {
		return false
	}

	if code, ok := portErrorCode(err); ok {
		switch code {
		case goserial.PortNotFound, goserial.PortClosed, goserial.InvalidSerialPort:
			return true
		default:
			return false
		}
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "input/output error") ||
		strings.Contains(msg, "no such device") ||
		strings.Contains(msg, "bad file descriptor")
}

// portErrorCode extracts the library error code. The library returns
// PortError both by value and by pointer depending on platform.
func portErrorCode(err error) (goserial.PortErrorCode, bool) {
	var ptr *goserial.PortError
	if errors.As(err, &ptr) && ptr != nil {
		return ptr.Code(), true
	}
	var val goserial.PortError
	if errors.As(err, &val) {
		return val.Code(), true
	}
	return 0, false
}
