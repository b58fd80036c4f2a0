package serial

import (
	"fmt"
	"time"

	"github.com/nerrad567/uart-mqtt-bridge/internal/infrastructure/config"
)

const (
	defaultFrameCapacity = 100
	defaultReadTimeout   = 500 * time.Millisecond

	terminator = '\n'
)

// Line reads newline-terminated frames from a Port.
//
// The returned frame slice is reused; it is valid until the next call to
// ReadLine. Line is not safe for concurrent use.
type Line struct {
	port     Port
	timeout  time.Duration
	capacity int

	// chunk receives raw reads; pending is the unconsumed tail of it.
	chunk   []byte
	pending []byte

	// pendingErr is a device error seen by Available, held for ReadLine.
	pendingErr error

	frame []byte
}

// NewLine wraps an open port.
//
// Returns:
//   - *Line: Line reader with the port's read timeout applied
//   - error: wraps ErrOpenFailed if the timeout cannot be set
func NewLine(port Port, cfg config.SerialConfig) (*Line, error) {
	capacity := cfg.FrameCapacity
	if capacity <= 0 {
		capacity = defaultFrameCapacity
	}
	timeout := cfg.ReadTimeout
	if timeout <= 0 {
		timeout = defaultReadTimeout
	}

	if err := port.SetReadTimeout(timeout); err != nil {
		return nil, fmt.Errorf("%w: setting read timeout: %w", ErrOpenFailed, err)
	}

	return &Line{
		port:     port,
		timeout:  timeout,
		capacity: capacity,
		chunk:    make([]byte, capacity),
		frame:    make([]byte, 0, capacity),
	}, nil
}

// Available reports whether ReadLine has something to return without
// waiting: buffered bytes, or a device error from the non-blocking read.
// The error is held and returned by the next ReadLine.
func (l *Line) Available() bool {
	if len(l.pending) > 0 || l.pendingErr != nil {
		return true
	}

	if err := l.port.SetReadTimeout(0); err != nil {
		l.pendingErr = fmt.Errorf("%w: clearing read timeout: %w", ErrReadFailed, err)
		return true
	}
	n, readErr := l.port.Read(l.chunk)
	if n > 0 {
		l.pending = l.chunk[:n]
	}
	if readErr != nil {
		l.pendingErr = fmt.Errorf("%w: %w", ErrReadFailed, readErr)
	}

	// A port left at zero timeout would cut every later frame short
	if err := l.port.SetReadTimeout(l.timeout); err != nil && l.pendingErr == nil {
		l.pendingErr = fmt.Errorf("%w: restoring read timeout: %w", ErrReadFailed, err)
	}

	return n > 0 || l.pendingErr != nil
}

// ReadLine reads one frame.
//
// Reading stops at the first '\n' (consumed, not returned), when the frame
// reaches capacity, or when a read times out. A frame cut short by
// capacity is reported as truncated; its remaining bytes start the next
// frame. A timeout with nothing read returns an empty frame.
//
// Returns:
//   - []byte: Frame bytes without the terminator, valid until the next call
//   - bool: true if the frame was cut at capacity
//   - error: wraps ErrReadFailed on device errors, including one held
//     by Available; bytes read before the error are returned first
func (l *Line) ReadLine() ([]byte, bool, error) {
	l.frame = l.frame[:0]

	for {
		for len(l.pending) > 0 {
			b := l.pending[0]
			l.pending = l.pending[1:]

			if b == terminator {
				return l.frame, false, nil
			}
			l.frame = append(l.frame, b)
			if len(l.frame) >= l.capacity {
				return l.frame, true, nil
			}
		}

		if err := l.pendingErr; err != nil {
			l.pendingErr = nil
			return l.frame, false, err
		}

		n, err := l.port.Read(l.chunk)
		if err != nil {
			return l.frame, false, fmt.Errorf("%w: %w", ErrReadFailed, err)
		}
		if n == 0 {
			// timed out
			return l.frame, false, nil
		}
		l.pending = l.chunk[:n]
	}
}

// Write sends p to the device in full.
func (l *Line) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := l.port.Write(p[written:])
		written += n
		if err != nil {
			return written, fmt.Errorf("%w: %w", ErrWriteFailed, err)
		}
		if n == 0 {
			return written, fmt.Errorf("%w: short write", ErrWriteFailed)
		}
	}
	return written, nil
}

// Close closes the underlying port.
func (l *Line) Close() error {
	return l.port.Close()
}
