package uart

import (
	"errors"
	"fmt"
)

// Domain errors for the UART bridge package.
var (
	// ErrMalformedFrame is wrapped by every decode failure except
	// ErrForeignFrame. Malformed frames are discarded.
	ErrMalformedFrame = errors.New("uart: malformed frame")

	// ErrEmptyFrame is returned for a zero-length line.
	ErrEmptyFrame = fmt.Errorf("%w: empty frame", ErrMalformedFrame)

	// ErrMissingSentinel is returned when the line does not end with the sentinel.
	ErrMissingSentinel = fmt.Errorf("%w: missing sentinel", ErrMalformedFrame)

	// ErrMissingSeparator is returned when no space separates topic and value,
	// or the topic before it is empty.
	ErrMissingSeparator = fmt.Errorf("%w: missing topic separator", ErrMalformedFrame)

	// ErrEmptyValue is returned when nothing follows the separator.
	ErrEmptyValue = fmt.Errorf("%w: empty value", ErrMalformedFrame)

	// ErrInvalidTopic is returned when the topic cannot be published to:
	// it holds MQTT wildcards, control bytes or invalid UTF-8.
	ErrInvalidTopic = fmt.Errorf("%w: invalid topic", ErrMalformedFrame)

	// ErrForeignFrame is returned for a well-formed line that is not meant
	// for MQTT. Such lines are accepted and ignored.
	ErrForeignFrame = errors.New("uart: frame not addressed to mqtt")

	// ErrLinkNotReady is returned when the link could not be brought up
	// before the caller gave up.
	ErrLinkNotReady = errors.New("uart: link not ready")
)
