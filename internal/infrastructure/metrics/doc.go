// Package metrics exposes bridge counters on a Prometheus scrape endpoint.
//
// Counters live in the components that own them (atomics read lock-free);
// this package only registers read functions against a private registry
// and serves it over HTTP alongside a JSON health endpoint at /healthz:
//
//	reg := metrics.NewRegistry()
//	reg.CounterFunc("frames_read_total", "Serial frames read.", func() float64 { ... })
//	srv := metrics.NewServer(cfg.Metrics, reg, version)
//	srv.AddHealthCheck("mqtt", mqttClient.HealthCheck)
//	go srv.Run(ctx)
//
// /healthz answers 200 while every registered check passes and 503 with
// the failing check's error otherwise.
//
// # Configuration
//
//	metrics:
//	  listen: ":9108"   # empty disables the endpoint
//	  path: "/metrics"
package metrics
