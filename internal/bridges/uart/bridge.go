package uart

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Bridge publish settings. Frames are fire-and-forget.
const (
	publishQoS      byte = 0
	publishRetained      = false
)

// Logger is the structured logger used by the bridge components.
// Compatible with logging.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Publisher is the outbound half of the MQTT transport.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Stats counts bridge traffic since start.
type Stats struct {
	FramesRead       uint64
	FramesTruncated  uint64
	FramesMalformed  uint64
	FramesForeign    uint64
	Published        uint64
	PublishFailures  uint64
	Delivered        uint64
	SerialWriteFails uint64
	Heartbeats       uint64
	HeartbeatFails   uint64
}

// Bridge translates between serial frames and MQTT messages.
// It handles:
//   - Decoding serial lines and publishing them (serial → MQTT)
//   - Encoding MQTT deliveries and writing them to the peer (MQTT → serial)
//   - The uptime heartbeat
//
// Errors never reach the serial peer; they are logged and counted.
//
// Thread Safety: routing methods are called from the scheduler goroutine.
// Stats is safe from any goroutine.
type Bridge struct {
	codec          *Codec
	publisher      Publisher
	serial         io.Writer
	heartbeatTopic string
	subscriptions  []string

	framesRead       atomic.Uint64
	framesTruncated  atomic.Uint64
	framesMalformed  atomic.Uint64
	framesForeign    atomic.Uint64
	published        atomic.Uint64
	publishFailures  atomic.Uint64
	delivered        atomic.Uint64
	serialWriteFails atomic.Uint64
	heartbeats       atomic.Uint64
	heartbeatFails   atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Codec frames serial lines. Default: NewCodec(DefaultMarker, DefaultSentinel).
	Codec *Codec

	// Publisher is the MQTT transport.
	Publisher Publisher

	// Serial receives encoded inbound messages.
	Serial io.Writer

	// HeartbeatTopic receives the uptime heartbeat.
	HeartbeatTopic string

	// Subscriptions is the fixed topic set reported by Subscriptions.
	Subscriptions []string

	// Logger is optional structured logger.
	Logger Logger
}

// NewBridge creates a new bridge instance.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if opts.Serial == nil {
		return nil, fmt.Errorf("serial writer is required")
	}
	if opts.HeartbeatTopic == "" {
		return nil, fmt.Errorf("heartbeat topic is required")
	}

	codec := opts.Codec
	if codec == nil {
		codec = NewCodec(DefaultMarker, DefaultSentinel)
	}

	return &Bridge{
		codec:          codec,
		publisher:      opts.Publisher,
		serial:         opts.Serial,
		heartbeatTopic: opts.HeartbeatTopic,
		subscriptions:  append([]string(nil), opts.Subscriptions...),
		logger:         opts.Logger,
	}, nil
}

// SetLogger sets the logger for this bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

// HandleFrame records truncation and routes the frame's line.
func (b *Bridge) HandleFrame(f Frame) {
	if f.Truncated {
		b.framesTruncated.Add(1)
		if logger := b.getLogger(); logger != nil {
			logger.Warn("serial frame truncated", "length", f.Len())
		}
	}
	b.HandleLine(f.Data)
}

// HandleLine decodes one serial line and publishes it if it is an MQTT frame.
// Foreign and malformed lines are counted and dropped.
func (b *Bridge) HandleLine(line []byte) {
	b.framesRead.Add(1)
	logger := b.getLogger()

	msg, err := b.codec.Decode(line)
	switch {
	case err == nil:
		b.RouteOutbound(msg)
	case errors.Is(err, ErrForeignFrame):
		b.framesForeign.Add(1)
		if logger != nil {
			logger.Debug("ignoring non-mqtt serial frame", "length", len(line))
		}
	default:
		b.framesMalformed.Add(1)
		if logger != nil {
			logger.Debug("discarding malformed serial frame", "reason", err, "frame", string(line))
		}
	}
}

// RouteOutbound publishes a decoded message at QoS 0, not retained.
func (b *Bridge) RouteOutbound(msg Message) {
	logger := b.getLogger()

	if err := b.publisher.Publish(msg.Topic, []byte(msg.Value), publishQoS, publishRetained); err != nil {
		b.publishFailures.Add(1)
		if logger != nil {
			logger.Warn("publish failed", "topic", msg.Topic, "error", err)
		}
		return
	}

	b.published.Add(1)
	if logger != nil {
		logger.Debug("published serial frame", "topic", msg.Topic, "value", msg.Value)
	}
}

// RouteInbound writes an MQTT delivery to the serial peer.
// A failed write drops the message.
func (b *Bridge) RouteInbound(topic string, payload []byte) {
	logger := b.getLogger()
	if logger != nil {
		logger.Debug("message arrived", "topic", topic, "size", len(payload))
	}

	if _, err := b.serial.Write(b.codec.Encode(topic, payload)); err != nil {
		b.serialWriteFails.Add(1)
		if logger != nil {
			logger.Warn("serial write failed, message dropped", "topic", topic, "error", err)
		}
		return
	}
	b.delivered.Add(1)
}

// PublishHeartbeat publishes the uptime in decimal milliseconds.
// It is sent whatever the link state; a failure is not retried.
func (b *Bridge) PublishHeartbeat(uptime time.Duration) {
	payload := strconv.FormatInt(uptime.Milliseconds(), 10)
	logger := b.getLogger()

	if err := b.publisher.Publish(b.heartbeatTopic, []byte(payload), publishQoS, publishRetained); err != nil {
		b.heartbeatFails.Add(1)
		if logger != nil {
			logger.Warn("heartbeat publish failed", "topic", b.heartbeatTopic, "error", err)
		}
		return
	}

	b.heartbeats.Add(1)
	if logger != nil {
		logger.Debug("published heartbeat", "uptime_ms", payload)
	}
}

// Subscriptions returns the fixed topic set.
func (b *Bridge) Subscriptions() []string {
	return append([]string(nil), b.subscriptions...)
}

// Stats returns a snapshot of the bridge counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		FramesRead:       b.framesRead.Load(),
		FramesTruncated:  b.framesTruncated.Load(),
		FramesMalformed:  b.framesMalformed.Load(),
		FramesForeign:    b.framesForeign.Load(),
		Published:        b.published.Load(),
		PublishFailures:  b.publishFailures.Load(),
		Delivered:        b.delivered.Load(),
		SerialWriteFails: b.serialWriteFails.Load(),
		Heartbeats:       b.heartbeats.Load(),
		HeartbeatFails:   b.heartbeatFails.Load(),
	}
}
