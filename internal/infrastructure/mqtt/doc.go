// Package mqtt provides MQTT client connectivity for the UART bridge.
//
// This package manages:
//   - One broker session per Connect call, each with its own client identifier
//   - Message publishing with QoS validation
//   - Topic subscriptions scoped to the current session
//   - A bounded inbox that hands received messages to a single control flow
//   - Optional retained status topic with Last Will and Testament
//
// # Architecture
//
// The bridge owns reconnection. Paho's automatic reconnect is disabled
// and every session starts clean, so the caller re-subscribes after each
// successful Connect:
//
//	serial device ↔ bridge ↔ MQTT broker
//
// Paho delivers messages on its own goroutines. They are copied into the
// inbox and only reach the application when the owner calls Loop, which
// keeps all routing on one goroutine.
//
// # Usage
//
//	client := mqtt.New(cfg.MQTT)
//	if err := client.Connect(ctx, "esp_uart_mqtt1f3a"); err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.SetOnMessage(func(topic string, payload []byte) {
//	    // forward to the serial device
//	})
//	_ = client.Subscribe("rf/config", 0)
//
//	for {
//	    client.Loop()
//	    // ...
//	}
package mqtt
