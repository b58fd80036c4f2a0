// Package config handles loading and validating the UART bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// The defaults reproduce the constants the serial peer was built against:
// 57600 baud, a 100-byte frame, the "[MQTT] " marker, the "*" sentinel, a
// 200ms fast period, a 10s heartbeat and the "rf/config" subscription.
//
// Security Considerations:
//   - Broker credentials should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Serial.Port)
package config
