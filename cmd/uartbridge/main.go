// UART MQTT Bridge
//
// This is the main entry point for the UART bridge. It forwards framed
// lines from a serial peer to an MQTT broker and broker messages back to
// the peer, keeping the network link and broker session up on its own.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/uart-mqtt-bridge/internal/bridges/uart"
	"github.com/nerrad567/uart-mqtt-bridge/internal/infrastructure/config"
	"github.com/nerrad567/uart-mqtt-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/uart-mqtt-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/uart-mqtt-bridge/internal/infrastructure/metrics"
	"github.com/nerrad567/uart-mqtt-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/uart-mqtt-bridge/internal/infrastructure/serial"
	"github.com/nerrad567/uart-mqtt-bridge/internal/infrastructure/wifi"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel on Ctrl+C or SIGTERM for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCommand builds the uartbridge command tree.
func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "uartbridge",
		Short:         "Bridge a serial line protocol to an MQTT broker",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), getConfigPath(configPath))
		},
	}
	addConfigFlag(cmd.PersistentFlags(), &configPath)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "uartbridge %s (commit %s, built %s)\n", version, commit, date)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "ports",
		Short: "List serial ports on this host",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ports, err := serial.ListPorts()
			if err != nil {
				return err
			}
			for _, p := range ports {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	})

	return cmd
}

// addConfigFlag registers --config on fs.
func addConfigFlag(fs *pflag.FlagSet, target *string) {
	fs.StringVarP(target, "config", "c", "",
		"configuration file (default $UARTBRIDGE_CONFIG or "+defaultConfigPath+")")
}

// getConfigPath returns the configuration file path.
// The flag wins, then UARTBRIDGE_CONFIG, then the default.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv("UARTBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: YAML configuration file
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting UART bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	defer func() { _ = log.Sync() }()
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// A lost serial port stops the bridge with its cause
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	line, err := serial.Open(cfg.Serial)
	if err != nil {
		return fmt.Errorf("opening serial port: %w", err)
	}
	defer func() {
		log.Info("closing serial port")
		if closeErr := line.Close(); closeErr != nil {
			log.Error("error closing serial port", "error", closeErr)
		}
	}()
	log.Info("serial port open", "port", cfg.Serial.Port, "baud", cfg.Serial.Baud)

	station := wifi.NewStation(cfg.WiFi)
	station.SetLogger(log)

	mqttClient := mqtt.New(cfg.MQTT)
	mqttClient.SetLogger(log)
	if cfg.Bridge.StatusTopic != "" {
		mqttClient.SetStatusTopic(cfg.Bridge.StatusTopic)
	}
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()

	bridge, err := uart.NewBridge(uart.BridgeOptions{
		Codec:          uart.NewCodec(cfg.Bridge.Marker, cfg.Bridge.Sentinel[0]),
		Publisher:      mqttClient,
		Serial:         line,
		HeartbeatTopic: cfg.Bridge.HeartbeatTopic,
		Subscriptions:  cfg.Bridge.Subscriptions,
		Logger:         log,
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	mqttClient.SetOnMessage(bridge.RouteInbound)

	clock := uart.NewClock()
	link, err := uart.NewLinkManager(uart.LinkOptions{
		Config: uart.LinkConfig{
			ClientIDPrefix: cfg.MQTT.Broker.ClientIDPrefix,
			RetryDelay:     cfg.MQTT.RetryDelay,
			AssociateRetry: cfg.WiFi.AssociateRetry,
			Subscriptions:  bridge.Subscriptions(),
		},
		Station:   station,
		Transport: mqttClient,
		Clock:     clock,
		Logger:    log,
	})
	if err != nil {
		return fmt.Errorf("creating link manager: %w", err)
	}

	registry := metrics.NewRegistry()
	if err := registerMetrics(registry, bridge, link, mqttClient); err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}
	server := metrics.NewServer(cfg.Metrics, registry, version)
	server.AddHealthCheck("mqtt", mqttClient.HealthCheck)
	server.AddHealthCheck("link", linkHealth(link))

	// Connect to InfluxDB (optional)
	var telemetry *influxdb.Writer
	if cfg.InfluxDB.Enabled {
		telemetry, err = influxdb.Open(ctx, cfg.InfluxDB, func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB writer")
			if closeErr := telemetry.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		server.AddHealthCheck("influxdb", telemetry.Ping)
		if err := registry.CounterFunc("influx_write_failures_total", "InfluxDB batch writes that failed.", func() float64 {
			return float64(telemetry.Failures())
		}); err != nil {
			return fmt.Errorf("registering metrics: %w", err)
		}
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	log.Info("bringing up link",
		"broker", cfg.MQTT.BrokerURL(),
		"client_id_prefix", cfg.MQTT.Broker.ClientIDPrefix,
	)
	if err := link.EnsureConnected(ctx); err != nil {
		if ctx.Err() != nil {
			log.Info("shutdown before link came up")
			return nil
		}
		return fmt.Errorf("bringing up link: %w", err)
	}

	scheduler, err := uart.NewScheduler(uart.SchedulerOptions{
		Pump:         mqttClient,
		Link:         link,
		Serial:       line,
		Bridge:       bridge,
		Clock:        clock,
		FastPeriod:   cfg.Scheduler.FastPeriod,
		SlowPeriod:   cfg.Scheduler.SlowPeriod,
		IdleInterval: cfg.Scheduler.IdleInterval,
		OnSlowTick: func(s uart.Snapshot) {
			if telemetry != nil {
				telemetry.Record(bridgeSample(s, link, mqttClient))
			}
		},
		ReadErrorHook: func(err error) {
			if serial.IsDisconnected(err) {
				cancel(fmt.Errorf("serial port lost: %w", err))
			}
		},
		Logger: log,
	})
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		return server.Run(gctx)
	})

	log.Info("initialisation complete, bridging")

	err = g.Wait()
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	log.Info("UART bridge stopped")
	return nil
}
