package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry *prometheus.Registry

type Counter interface {
	Inc()
	Add(float64)
}

type Gauge interface {
	Set(float64)
}

type Histogram interface {
	Observe(float64)
}

type CounterVec interface {
	With(labels ...string) Counter
}

type NoopStat struct{}

func (NoopStat) Inc()            {}
func (NoopStat) Add(float64)     {}
func (NoopStat) Set(float64)     {}
func (NoopStat) Observe(float64) {}

type noopCounterVec struct{}

func (noopCounterVec) With(labels ...string) Counter { return NoopStat{} }

type counterVec struct {
	vec *prometheus.CounterVec
}

func (c *counterVec) With(labelValues ...string) Counter {
	return c.vec.WithLabelValues(labelValues...)
}

// Initialize sets up the metrics registry. When disabled, every constructor
// returns a noop implementation.
func Initialize(enabled bool) {
	if !enabled {
		return
	}
	registry = prometheus.NewRegistry()
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())
}

// Handler returns the /metrics handler, or nil when telemetry is disabled.
func Handler() http.Handler {
	if registry == nil {
		return nil
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

func NewCounter(name, help string) Counter {
	if registry == nil {
		return NoopStat{}
	}
	ret := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mzsync",
		Name:      name,
		Help:      help,
	})
	registry.MustRegister(ret)
	return ret
}

func NewCounterVec(name, help string, labels []string) CounterVec {
	if registry == nil {
		return noopCounterVec{}
	}
	ret := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mzsync",
		Name:      name,
		Help:      help,
	}, labels)
	registry.MustRegister(ret)
	return &counterVec{vec: ret}
}

func NewGauge(name, help string) Gauge {
	if registry == nil {
		return NoopStat{}
	}
	ret := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mzsync",
		Name:      name,
		Help:      help,
	})
	registry.MustRegister(ret)
	return ret
}

func NewHistogram(name, help string) Histogram {
	if registry == nil {
		return NoopStat{}
	}
	ret := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mzsync",
		Name:      name,
		Help:      help,
	})
	registry.MustRegister(ret)
	return ret
}
