package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the engine-level prometheus instruments.
type Metrics struct {
	Registry *prometheus.Registry

	// DaysProcessed counts collector runs by outcome: ok, skipped, failed.
	DaysProcessed *prometheus.CounterVec
	// DayDuration observes wall time of a single day's collection.
	DayDuration prometheus.Histogram
	// PluginFailures counts data-quality skips by plugin name.
	PluginFailures *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		Registry: reg,
		DaysProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "costlane",
			Name:      "collector_days_total",
			Help:      "Collected days by outcome.",
		}, []string{"outcome"}),
		DayDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "costlane",
			Name:      "collector_day_duration_seconds",
			Help:      "Duration of a single day collection.",
			Buckets:   prometheus.DefBuckets,
		}),
		PluginFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "costlane",
			Name:      "collector_plugin_failures_total",
			Help:      "Plugin data-quality failures by plugin.",
		}, []string{"plugin"}),
	}
	reg.MustRegister(m.DaysProcessed, m.DayDuration, m.PluginFailures)
	return m
}
