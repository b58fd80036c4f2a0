package influxdb

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/uart-mqtt-bridge/internal/infrastructure/config"
)

const (
	openPingTimeout   = 10 * time.Second
	healthPingTimeout = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// Writer sends bridge samples to one InfluxDB bucket.
//
// Samples are batched by the client library and written in the background.
// Failed batches are counted and reported to the error callback given to
// Open; they are never retried by the bridge.
//
// Record, Ping and Failures are safe from any goroutine.
type Writer struct {
	client influxdb2.Client
	points api.WriteAPI

	onError  func(error)
	failures atomic.Uint64
	closed   atomic.Bool

	// now stamps samples; replaced in tests.
	now func() time.Time
}

// Open connects to the server and returns a writer for cfg.Bucket.
//
// The server must answer a ping before Open returns. onError may be nil.
//
// Returns:
//   - *Writer: writer with its background error drain running
//   - error: wraps ErrUnreachable if the ping fails
func Open(ctx context.Context, cfg config.InfluxDBConfig, onError func(error)) (*Writer, error) {
	opts := influxdb2.DefaultOptions().
		SetBatchSize(batchSize(cfg)).
		SetFlushInterval(flushIntervalMillis(cfg))
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	pingCtx, cancel := context.WithTimeout(ctx, openPingTimeout)
	defer cancel()
	if err := ping(pingCtx, client); err != nil {
		client.Close()
		return nil, err
	}

	w := newWriter(client, client.WriteAPI(cfg.Org, cfg.Bucket), onError)
	go w.drainErrors(w.points.Errors())
	return w, nil
}

func newWriter(client influxdb2.Client, points api.WriteAPI, onError func(error)) *Writer {
	return &Writer{
		client:  client,
		points:  points,
		onError: onError,
		now:     time.Now,
	}
}

func batchSize(cfg config.InfluxDBConfig) uint {
	if cfg.BatchSize <= 0 {
		return defaultBatchSize
	}
	return uint(cfg.BatchSize) // #nosec G115 -- checked positive
}

// flushIntervalMillis converts the configured seconds to the library's
// milliseconds.
func flushIntervalMillis(cfg config.InfluxDBConfig) uint {
	interval := time.Duration(cfg.FlushInterval) * time.Second
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	return uint(interval.Milliseconds()) // #nosec G115 -- positive
}

func ping(ctx context.Context, client influxdb2.Client) error {
	healthy, err := client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	if !healthy {
		return fmt.Errorf("%w: server not ready", ErrUnreachable)
	}
	return nil
}

// drainErrors counts failed batches until the write API closes errs.
func (w *Writer) drainErrors(errs <-chan error) {
	for err := range errs {
		w.failures.Add(1)
		if w.onError != nil {
			w.onError(err)
		}
	}
}

// Ping checks the server is still answering. Used by the health endpoint.
func (w *Writer) Ping(ctx context.Context) error {
	if w.closed.Load() {
		return ErrClosed
	}
	checkCtx, cancel := context.WithTimeout(ctx, healthPingTimeout)
	defer cancel()
	return ping(checkCtx, w.client)
}

// Failures returns the number of batches the server rejected or that
// could not be sent.
func (w *Writer) Failures() uint64 {
	return w.failures.Load()
}

// Close flushes buffered samples and releases the client. Samples recorded
// after Close are dropped.
func (w *Writer) Close() error {
	if w.closed.Swap(true) {
		return nil
	}
	w.points.Flush()
	w.client.Close()
	return nil
}
