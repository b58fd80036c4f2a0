package influxdb_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/nerrad567/uart-mqtt-bridge/internal/infrastructure/config"
	"github.com/nerrad567/uart-mqtt-bridge/internal/infrastructure/influxdb"
)

// testConfig returns a configuration for a local dev InfluxDB.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "uartbridge-dev-token",
		Org:           "uartbridge",
		Bucket:        "telemetry",
		BatchSize:     100,
		FlushInterval: 1, // 1 second for faster test feedback
	}
}

// skipIfNoInfluxDB skips the test if InfluxDB is not running.
func skipIfNoInfluxDB(t *testing.T) {
	t.Helper()
	if os.Getenv("RUN_INTEGRATION") == "" {
		w, err := influxdb.Open(context.Background(), testConfig(), nil)
		if err != nil {
			t.Skip("InfluxDB not available, skipping integration test")
		}
		w.Close()
	}
}

func TestOpen_Unreachable(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999" // Non-existent port

	_, err := influxdb.Open(context.Background(), cfg, nil)
	if !errors.Is(err, influxdb.ErrUnreachable) {
		t.Errorf("Open() error = %v, want ErrUnreachable", err)
	}
}

func TestOpen_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := influxdb.Open(ctx, testConfig(), nil); err == nil {
		t.Fatal("Open() should fail with a cancelled context")
	}
}

func TestRecordAndClose(t *testing.T) {
	skipIfNoInfluxDB(t)

	errs := make(chan error, 1)
	w, err := influxdb.Open(context.Background(), testConfig(), func(err error) {
		select {
		case errs <- err:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if err := w.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}

	w.Record(influxdb.BridgeSample{
		ClientID:   "esp_uart_mqtt1a2b",
		LinkState:  "ready",
		Uptime:     10 * time.Second,
		FramesRead: 3,
		Published:  2,
		Heartbeats: 1,
	})

	if err := w.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	select {
	case err := <-errs:
		t.Errorf("write error = %v", err)
	default:
	}
	if w.Failures() != 0 {
		t.Errorf("Failures() = %d, want 0", w.Failures())
	}
	if !errors.Is(w.Ping(context.Background()), influxdb.ErrClosed) {
		t.Error("Ping() after Close should return ErrClosed")
	}
}
