package uart

import (
	"bytes"
	"fmt"
	"unicode/utf8"
)

// Frame protocol defaults.
const (
	// DefaultMarker prefixes every MQTT-destined line.
	DefaultMarker = "[MQTT] "

	// DefaultSentinel closes every well-formed line.
	DefaultSentinel byte = '*'

	separator  = ' '
	terminator = '\n'
)

// Frame is one line read from the serial peer, delimiter excluded.
//
// Data is only valid until the next read from the same reader.
type Frame struct {
	Data []byte

	// Truncated is set when the reader's capacity was reached before the
	// delimiter arrived.
	Truncated bool
}

// Len returns the number of bytes in the frame.
func (f Frame) Len() int {
	return len(f.Data)
}

// Complete reports whether the frame ends with the sentinel.
func (f Frame) Complete(sentinel byte) bool {
	return len(f.Data) > 0 && f.Data[len(f.Data)-1] == sentinel
}

// Message is a decoded frame ready to publish.
type Message struct {
	Topic string
	Value string
}

// Codec translates between serial lines and MQTT messages.
//
// Inbound lines look like:
//
//	[MQTT] <topic> <value>*
//
// The topic runs up to the first space. The value is everything after it
// except the final sentinel byte, so a '*' inside the value survives.
type Codec struct {
	marker   []byte
	sentinel byte
}

// NewCodec creates a codec. An empty marker or zero sentinel selects the
// default.
func NewCodec(marker string, sentinel byte) *Codec {
	if marker == "" {
		marker = DefaultMarker
	}
	if sentinel == 0 {
		sentinel = DefaultSentinel
	}
	return &Codec{marker: []byte(marker), sentinel: sentinel}
}

// Sentinel returns the closing byte this codec expects.
func (c *Codec) Sentinel() byte {
	return c.sentinel
}

// Decode parses a line (delimiter already stripped) into a Message.
//
// Returns:
//   - Message: topic and value of a well-formed MQTT frame
//   - error: ErrForeignFrame for valid non-MQTT lines, otherwise an error
//     wrapping ErrMalformedFrame
func (c *Codec) Decode(line []byte) (Message, error) {
	if len(line) == 0 {
		return Message{}, ErrEmptyFrame
	}
	if line[len(line)-1] != c.sentinel {
		return Message{}, ErrMissingSentinel
	}
	if !bytes.HasPrefix(line, c.marker) {
		return Message{}, ErrForeignFrame
	}

	body := line[len(c.marker):]
	split := bytes.IndexByte(body, separator)
	if split < 0 {
		return Message{}, ErrMissingSeparator
	}
	if split == 0 {
		return Message{}, fmt.Errorf("%w: empty topic", ErrMissingSeparator)
	}

	topic := body[:split]
	valueEnd := len(body) - 1
	if split+1 >= valueEnd {
		return Message{}, ErrEmptyValue
	}
	value := body[split+1 : valueEnd]

	if !validTopic(topic) {
		return Message{}, fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}

	return Message{Topic: string(topic), Value: string(value)}, nil
}

// validTopic rejects wildcards, control bytes (tab included) and invalid
// UTF-8. The value is passed through untouched.
func validTopic(topic []byte) bool {
	for _, b := range topic {
		if b < 0x20 || b == 0x7f || b == '+' || b == '#' {
			return false
		}
	}
	return utf8.Valid(topic)
}

// Encode formats an MQTT delivery as a serial line, delimiter included.
func (c *Codec) Encode(topic string, payload []byte) []byte {
	out := make([]byte, 0, len(c.marker)+len(topic)+len(payload)+3)
	out = append(out, c.marker...)
	out = append(out, topic...)
	out = append(out, separator)
	out = append(out, payload...)
	out = append(out, c.sentinel, terminator)
	return out
}
