package metrics

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Requests  *prometheus.CounterVec
	Failures  *prometheus.CounterVec
	Tokens    *prometheus.CounterVec
	QuotaDeny *prometheus.CounterVec

	registry *prometheus.Registry
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = New()
	})
	return global
}

// New builds a metrics set on its own registry.
func New() *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pipelm",
			Name:      "requests_total",
			Help:      "Total requests dispatched to a provider",
		}, []string{"api"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pipelm",
			Name:      "request_failures_total",
			Help:      "Total dispatches that ended in an error",
		}, []string{"api", "kind"}),
		Tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pipelm",
			Name:      "tokens_total",
			Help:      "Tokens reported by providers",
		}, []string{"api", "kind"}),
		QuotaDeny: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pipelm",
			Name:      "quota_denied_total",
			Help:      "Requests refused by the hourly quota",
		}, []string{"api"}),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(m.Requests, m.Failures, m.Tokens, m.QuotaDeny)
	return m
}

// WriteTextfile dumps the current values in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
