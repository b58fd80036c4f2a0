package main

import (
	"context"
	"fmt"

	"github.com/nerrad567/uart-mqtt-bridge/internal/bridges/uart"
	"github.com/nerrad567/uart-mqtt-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/uart-mqtt-bridge/internal/infrastructure/metrics"
)

// statsSource is what the telemetry adapters read from.
type statsSource interface {
	Stats() uart.Stats
}

type linkSource interface {
	Stats() uart.LinkStats
	Ready() bool
	Current() string
	ClientID() string
}

type sessionSource interface {
	Dropped() uint64
	SubscriptionCount() int
}

// registerMetrics exposes bridge, link and session counters on reg.
func registerMetrics(reg *metrics.Registry, bridge statsSource, link linkSource, session sessionSource) error {
	counters := []struct {
		name string
		help string
		fn   func() uint64
	}{
		{"frames_read_total", "Serial lines read.", func() uint64 { return bridge.Stats().FramesRead }},
		{"frames_truncated_total", "Serial lines cut at frame capacity.", func() uint64 { return bridge.Stats().FramesTruncated }},
		{"frames_malformed_total", "Serial lines discarded as malformed.", func() uint64 { return bridge.Stats().FramesMalformed }},
		{"frames_foreign_total", "Serial lines without the MQTT marker.", func() uint64 { return bridge.Stats().FramesForeign }},
		{"published_total", "Frames published to the broker.", func() uint64 { return bridge.Stats().Published }},
		{"publish_failures_total", "Frames that failed to publish.", func() uint64 { return bridge.Stats().PublishFailures }},
		{"delivered_total", "Broker messages written to serial.", func() uint64 { return bridge.Stats().Delivered }},
		{"serial_write_failures_total", "Serial writes that failed.", func() uint64 { return bridge.Stats().SerialWriteFails }},
		{"heartbeats_total", "Heartbeats published.", func() uint64 { return bridge.Stats().Heartbeats }},
		{"heartbeat_failures_total", "Heartbeats that failed to publish.", func() uint64 { return bridge.Stats().HeartbeatFails }},
		{"inbox_dropped_total", "Broker messages dropped on a full inbox.", session.Dropped},
		{"connect_attempts_total", "MQTT connection attempts.", func() uint64 { return link.Stats().Attempts }},
		{"connects_total", "Successful MQTT connections.", func() uint64 { return link.Stats().Connects }},
		{"wifi_losses_total", "Times the network link dropped.", func() uint64 { return link.Stats().WiFiLosses }},
		{"session_losses_total", "Times the MQTT session dropped.", func() uint64 { return link.Stats().SessionLosses }},
	}

	for _, c := range counters {
		fn := c.fn
		if err := reg.CounterFunc(c.name, c.help, func() float64 { return float64(fn()) }); err != nil {
			return err
		}
	}

	if err := reg.GaugeFunc("link_ready", "1 while the MQTT session is up and subscribed.", func() float64 {
		if link.Ready() {
			return 1
		}
		return 0
	}); err != nil {
		return err
	}

	return reg.GaugeFunc("subscriptions_active", "Subscriptions held in the current MQTT session.", func() float64 {
		return float64(session.SubscriptionCount())
	})
}

// linkHealth fails while the link is not ready to carry frames.
func linkHealth(link linkSource) metrics.HealthCheck {
	return func(context.Context) error {
		if !link.Ready() {
			return fmt.Errorf("%w: %s", uart.ErrLinkNotReady, link.Current())
		}
		return nil
	}
}

// bridgeSample flattens a scheduler snapshot for InfluxDB.
func bridgeSample(s uart.Snapshot, link linkSource, session sessionSource) influxdb.BridgeSample {
	ls := link.Stats()
	return influxdb.BridgeSample{
		ClientID:  link.ClientID(),
		LinkState: link.Current(),
		Uptime:    s.Uptime,

		FramesRead:       s.Bridge.FramesRead,
		FramesTruncated:  s.Bridge.FramesTruncated,
		FramesMalformed:  s.Bridge.FramesMalformed,
		FramesForeign:    s.Bridge.FramesForeign,
		Published:        s.Bridge.Published,
		PublishFailures:  s.Bridge.PublishFailures,
		Delivered:        s.Bridge.Delivered,
		SerialWriteFails: s.Bridge.SerialWriteFails,
		InboxDropped:     session.Dropped(),
		Heartbeats:       s.Bridge.Heartbeats,

		ConnectAttempts: ls.Attempts,
		Connects:        ls.Connects,
		WiFiLosses:      ls.WiFiLosses,
		SessionLosses:   ls.SessionLosses,
	}
}
