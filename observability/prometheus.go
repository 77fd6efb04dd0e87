package observability

import (
	"errors"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusFactory is a MetricFactory that registers collectors with a
// Prometheus registerer. Dotted names become underscored.
type PrometheusFactory struct {
	reg prometheus.Registerer

	mu         sync.Mutex
	collectors map[string]prometheus.Collector
}

var _ MetricFactory = (*PrometheusFactory)(nil)

// NewPrometheusFactory returns a factory registering with reg. A nil reg
// uses prometheus.DefaultRegisterer.
func NewPrometheusFactory(reg prometheus.Registerer) *PrometheusFactory {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &PrometheusFactory{reg: reg, collectors: make(map[string]prometheus.Collector)}
}

func (f *PrometheusFactory) Counter(name string) Counter {
	return register(f, name, func(n string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: n, Help: "Total " + strings.ReplaceAll(n, "_", " ") + "."})
	})
}

func (f *PrometheusFactory) Histogram(name string) Histogram {
	return register(f, name, func(n string) prometheus.Histogram {
		return prometheus.NewHistogram(prometheus.HistogramOpts{Name: n, Help: "Distribution of " + strings.ReplaceAll(n, "_", " ") + ".", Buckets: prometheus.ExponentialBuckets(1, 4, 10)})
	})
}

func (f *PrometheusFactory) Gauge(name string) Gauge {
	return register(f, name, func(n string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: n, Help: "Current " + strings.ReplaceAll(n, "_", " ") + "."})
	})
}

// register returns the collector already created under name, or creates
// and registers one. A collector registered elsewhere under the same name
// is reused.
func register[C prometheus.Collector](f *PrometheusFactory, name string, mk func(string) C) C {
	n := metricName(name)

	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.collectors[n].(C); ok {
		return c
	}
	c := mk(n)
	if err := f.reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				c = existing
			}
		}
	}
	f.collectors[n] = c
	return c
}

func metricName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}
