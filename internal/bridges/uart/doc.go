// Package uart implements the UART⇄MQTT bridge.
//
// A device that only speaks a serial line prints MQTT-destined messages as
// text; this package publishes them and writes subscribed messages back.
//
// # Architecture
//
//	┌─────────────────┐  UART   ┌─────────────────┐  MQTT   ┌─────────────┐
//	│  serial device  │◄───────►│   UART Bridge   │◄───────►│   broker    │
//	└─────────────────┘         │   (this pkg)    │         └─────────────┘
//	                            └─────────────────┘
//
// # Components
//
//   - Codec: parses serial lines and formats outbound ones
//   - LinkManager: brings the network link and MQTT session up and keeps them there
//   - Bridge: routes messages in both directions and publishes the heartbeat
//   - Scheduler: the two-rate cooperative loop driving all of the above
//
// # Serial Line Protocol
//
// Lines end in '\n' and must close with the sentinel '*'. Lines for MQTT
// start with the marker "[MQTT] ":
//
//	[MQTT] sensors/temp 21.5*     → publish "21.5" to sensors/temp
//	[MQTT] rf/config 1*           ← delivery of "1" on rf/config
//
// Lines without the marker are left for other consumers of the serial
// stream and ignored. Lines without the sentinel are discarded.
//
// # Thread Safety
//
// Routing runs on the scheduler goroutine only. MQTT deliveries are queued
// by the transport and handed over when the scheduler pumps it, so inbound
// and outbound traffic never run concurrently. Stats accessors are safe
// from any goroutine.
package uart
