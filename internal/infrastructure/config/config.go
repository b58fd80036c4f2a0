package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the UART bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Serial    SerialConfig    `yaml:"serial"`
	WiFi      WiFiConfig      `yaml:"wifi"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
}

// SerialConfig contains UART settings for the serial peer.
type SerialConfig struct {
	// Port is the device path (e.g. "/dev/ttyS0", "/dev/ttyUSB0").
	Port string `yaml:"port"`

	// Baud is the line speed. Default: 57600.
	Baud int `yaml:"baud"`

	// ReadTimeout bounds how long a line read waits for the next byte.
	// Default: 500ms.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// FrameCapacity is the maximum line length in bytes, delimiter excluded.
	// Longer lines are truncated. Default: 100.
	FrameCapacity int `yaml:"frame_capacity"`
}

// WiFiConfig contains station (network link) settings.
type WiFiConfig struct {
	// Interface is the network interface that carries the broker traffic
	// (e.g. "wlan0"). Empty means "any interface with a non-loopback IPv4
	// address", so a wired link counts as associated. Required when
	// AssociateCommand is set.
	Interface string `yaml:"interface"`

	// AssociateCommand is run once each time the link drops to start
	// association (e.g. ["nmcli", "radio", "wifi", "on"]). Empty disables it.
	AssociateCommand []string `yaml:"associate_command"`

	// AssociateRetry re-runs AssociateCommand if the station is still not
	// associated after this long. Zero means never re-run.
	AssociateRetry time.Duration `yaml:"associate_retry"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker MQTTBrokerConfig `yaml:"broker"`
	Auth   MQTTAuthConfig   `yaml:"auth"`

	// ConnectTimeout bounds a single connection attempt. Default: 10s.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// RetryDelay is the pause between failed connection attempts. Default: 5s.
	RetryDelay time.Duration `yaml:"retry_delay"`

	// KeepAlive is the MQTT keepalive interval. Default: 15s.
	KeepAlive time.Duration `yaml:"keepalive"`

	// InboxSize bounds the number of received messages waiting for the
	// scheduler to drain them. Default: 64.
	InboxSize int `yaml:"inbox_size"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	TLS  bool   `yaml:"tls"`

	// ClientIDPrefix is the fixed part of the client identifier. A random hex
	// suffix is appended on every connection attempt.
	ClientIDPrefix string `yaml:"client_id_prefix"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// BridgeConfig contains the serial line protocol and topic settings.
type BridgeConfig struct {
	// Marker is the prefix that identifies MQTT-destined lines. Default: "[MQTT] ".
	Marker string `yaml:"marker"`

	// Sentinel is the trailing character that closes a well-formed line. Default: "*".
	Sentinel string `yaml:"sentinel"`

	// HeartbeatTopic receives the uptime heartbeat. Default: "esp/heartbeat".
	HeartbeatTopic string `yaml:"heartbeat_topic"`

	// Subscriptions is the fixed topic set re-subscribed on every connect.
	// Default: ["rf/config"].
	Subscriptions []string `yaml:"subscriptions"`

	// StatusTopic, when set, carries a retained online/offline status and is
	// used as the Last Will topic.
	StatusTopic string `yaml:"status_topic"`
}

// SchedulerConfig contains the cooperative loop periods.
type SchedulerConfig struct {
	// FastPeriod is the I/O servicing period. Default: 200ms.
	FastPeriod time.Duration `yaml:"fast_period"`

	// SlowPeriod is the heartbeat period. Default: 10s.
	SlowPeriod time.Duration `yaml:"slow_period"`

	// IdleInterval is the pause between loop iterations. Default: 5ms.
	IdleInterval time.Duration `yaml:"idle_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MetricsConfig contains the Prometheus endpoint settings.
type MetricsConfig struct {
	// Listen is the HTTP listen address (e.g. ":9108"). Empty disables the endpoint.
	Listen string `yaml:"listen"`

	// Path is the HTTP path for the scrape endpoint. Default: "/metrics".
	Path string `yaml:"path"`
}

// InfluxDBConfig contains InfluxDB telemetry settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: UARTBRIDGE_SECTION_KEY
// For example: UARTBRIDGE_SERIAL_PORT, UARTBRIDGE_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config populated with the bridge's built-in defaults.
// The values match the constants the serial peer firmware expects.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:          "/dev/ttyS0",
			Baud:          57600,
			ReadTimeout:   500 * time.Millisecond,
			FrameCapacity: 100,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:           "localhost",
				Port:           1883,
				ClientIDPrefix: "esp_uart_mqtt",
			},
			ConnectTimeout: 10 * time.Second,
			RetryDelay:     5 * time.Second,
			KeepAlive:      15 * time.Second,
			InboxSize:      64,
		},
		Bridge: BridgeConfig{
			Marker:         "[MQTT] ",
			Sentinel:       "*",
			HeartbeatTopic: "esp/heartbeat",
			Subscriptions:  []string{"rf/config"},
		},
		Scheduler: SchedulerConfig{
			FastPeriod:   200 * time.Millisecond,
			SlowPeriod:   10 * time.Second,
			IdleInterval: 5 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: UARTBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Serial
	if v := os.Getenv("UARTBRIDGE_SERIAL_PORT"); v != "" {
		cfg.Serial.Port = v
	}
	if v := os.Getenv("UARTBRIDGE_SERIAL_BAUD"); v != "" {
		if baud, err := strconv.Atoi(v); err == nil {
			cfg.Serial.Baud = baud
		}
	}

	// WiFi
	if v := os.Getenv("UARTBRIDGE_WIFI_INTERFACE"); v != "" {
		cfg.WiFi.Interface = v
	}

	// MQTT
	if v := os.Getenv("UARTBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("UARTBRIDGE_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("UARTBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("UARTBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("UARTBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Serial validation
	if c.Serial.Port == "" {
		errs = append(errs, "serial.port is required")
	}
	if c.Serial.Baud <= 0 {
		errs = append(errs, "serial.baud must be positive")
	}
	if c.Serial.FrameCapacity <= 0 {
		errs = append(errs, "serial.frame_capacity must be positive")
	}

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.Broker.ClientIDPrefix == "" {
		errs = append(errs, "mqtt.broker.client_id_prefix is required")
	}
	if c.MQTT.RetryDelay <= 0 {
		errs = append(errs, "mqtt.retry_delay must be positive")
	}

	// Bridge validation
	if c.Bridge.Marker == "" {
		errs = append(errs, "bridge.marker is required")
	}
	if len(c.Bridge.Sentinel) != 1 {
		errs = append(errs, "bridge.sentinel must be exactly one character")
	}
	if c.Bridge.HeartbeatTopic == "" {
		errs = append(errs, "bridge.heartbeat_topic is required")
	}
	for _, topic := range c.Bridge.Subscriptions {
		if strings.TrimSpace(topic) == "" {
			errs = append(errs, "bridge.subscriptions must not contain empty topics")
			break
		}
	}

	// Scheduler validation
	if c.Scheduler.FastPeriod <= 0 {
		errs = append(errs, "scheduler.fast_period must be positive")
	}
	if c.Scheduler.SlowPeriod < c.Scheduler.FastPeriod {
		errs = append(errs, "scheduler.slow_period must not be shorter than scheduler.fast_period")
	}

	// WiFi validation
	if len(c.WiFi.AssociateCommand) > 0 && c.WiFi.Interface == "" {
		errs = append(errs, "wifi.interface is required when wifi.associate_command is set")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// BrokerURL returns the broker URL in the form paho expects.
func (c MQTTConfig) BrokerURL() string {
	scheme := "tcp"
	if c.Broker.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Broker.Host, c.Broker.Port)
}
