package influxdb

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// measurementBridge is the measurement holding periodic bridge samples.
const measurementBridge = "uart_bridge"

// BridgeSample is one periodic snapshot of bridge counters.
//
// Counters are cumulative since process start; rates are derived at query
// time.
type BridgeSample struct {
	ClientID  string
	LinkState string
	Uptime    time.Duration

	FramesRead       uint64
	FramesTruncated  uint64
	FramesMalformed  uint64
	FramesForeign    uint64
	Published        uint64
	PublishFailures  uint64
	Delivered        uint64
	SerialWriteFails uint64
	InboxDropped     uint64
	Heartbeats       uint64

	ConnectAttempts uint64
	Connects        uint64
	WiFiLosses      uint64
	SessionLosses   uint64
}

// Record queues a sample for the next batch. It never blocks.
func (w *Writer) Record(s BridgeSample) {
	if w.closed.Load() {
		return
	}
	w.points.WritePoint(samplePoint(s, w.now()))
}

// samplePoint tags a sample with the session it was taken in.
func samplePoint(s BridgeSample, at time.Time) *write.Point {
	return influxdb2.NewPointWithMeasurement(measurementBridge).
		AddTag("client_id", s.ClientID).
		AddTag("link_state", s.LinkState).
		AddField("uptime_ms", s.Uptime.Milliseconds()).
		AddField("frames_read", s.FramesRead).
		AddField("frames_truncated", s.FramesTruncated).
		AddField("frames_malformed", s.FramesMalformed).
		AddField("frames_foreign", s.FramesForeign).
		AddField("published", s.Published).
		AddField("publish_failures", s.PublishFailures).
		AddField("delivered", s.Delivered).
		AddField("serial_write_fails", s.SerialWriteFails).
		AddField("inbox_dropped", s.InboxDropped).
		AddField("heartbeats", s.Heartbeats).
		AddField("connect_attempts", s.ConnectAttempts).
		AddField("connects", s.Connects).
		AddField("wifi_losses", s.WiFiLosses).
		AddField("session_losses", s.SessionLosses).
		SetTime(at)
}
