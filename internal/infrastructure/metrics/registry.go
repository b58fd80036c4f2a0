package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// namespace prefixes every metric name.
const namespace = "uartbridge"

// Registry holds the bridge's collectors.
type Registry struct {
	reg *prometheus.Registry
}

// NewRegistry creates a registry with Go runtime and process collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Registry{reg: reg}
}

// CounterFunc registers a monotonically increasing value read on scrape.
func (r *Registry) CounterFunc(name, help string, fn func() float64) error {
	c := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn)
	if err := r.reg.Register(c); err != nil {
		return fmt.Errorf("metrics: registering %s: %w", name, err)
	}
	return nil
}

// GaugeFunc registers a value that can go up and down, read on scrape.
func (r *Registry) GaugeFunc(name, help string, fn func() float64) error {
	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn)
	if err := r.reg.Register(g); err != nil {
		return fmt.Errorf("metrics: registering %s: %w", name, err)
	}
	return nil
}

// Gatherer returns the underlying gatherer for serving or testing.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}
