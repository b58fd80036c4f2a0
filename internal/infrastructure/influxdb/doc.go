// Package influxdb records bridge telemetry in InfluxDB.
//
// The scheduler hands a BridgeSample to Writer.Record on every slow tick:
// frame counters, publish outcomes, link recoveries and the current link
// state. Stored as a time series they make flapping links and noisy serial
// peers visible after the fact.
//
//	w, err := influxdb.Open(ctx, cfg.InfluxDB, func(err error) {
//	    log.Error("InfluxDB write error", "error", err)
//	})
//	if err != nil {
//	    return err
//	}
//	defer w.Close()
//
//	w.Record(sample)
//
// Writes are batched by the client library; Record never blocks the
// scheduler. A failed batch is counted (Failures) and passed to the error
// callback.
//
// # Configuration
//
//	influxdb:
//	  enabled: true
//	  url: "http://localhost:8086"
//	  org: "home"
//	  bucket: "uartbridge"
//	  batch_size: 100       # points per batch
//	  flush_interval: 10    # seconds
package influxdb
