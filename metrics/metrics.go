// Package metrics keeps process counters in a private Prometheus registry
// and writes them to a node-exporter textfile.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"transmute/accelerator"
)

// Collector holds the transmute metric families.
type Collector struct {
	reg *prometheus.Registry

	tasks       *prometheus.CounterVec
	conversions *prometheus.CounterVec
	pool        *prometheus.GaugeVec
	ratio       prometheus.Histogram
	duration    prometheus.Histogram
}

func New() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "transmute",
			Name:      "tasks_total",
			Help:      "Finished tasks by status and error kind.",
		}, []string{"status", "kind"}),
		conversions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "transmute",
			Name:      "color_conversions_total",
			Help:      "Color conversions by execution path and CPU fallback reason.",
		}, []string{"path", "reason"}),
		pool: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "transmute",
			Subsystem: "buffer_pool",
			Name:      "events",
			Help:      "Accelerator buffer pool counters as of the last snapshot.",
		}, []string{"event"}),
		ratio: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "transmute",
			Name:      "compression_ratio",
			Help:      "Raw size over encoded size per artifact.",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "transmute",
			Name:      "task_duration_seconds",
			Help:      "Wall time per task.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
	c.reg.MustRegister(c.tasks, c.conversions, c.pool, c.ratio, c.duration)
	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.reg
}

// ObserveTask records one finished task.
func (c *Collector) ObserveTask(status, kind string, seconds, ratio float64) {
	c.tasks.WithLabelValues(status, kind).Inc()
	c.duration.Observe(seconds)
	if ratio > 0 {
		c.ratio.Observe(ratio)
	}
}

// ObserveConversion records one dispatch report. It is safe to install as
// an accelerator observer.
func (c *Collector) ObserveConversion(r accelerator.Report) {
	c.conversions.WithLabelValues(string(r.Path), r.Reason).Inc()
}

// SetPoolStats copies the pool counters into gauges.
func (c *Collector) SetPoolStats(s accelerator.PoolStats) {
	c.pool.WithLabelValues("allocations").Set(float64(s.Allocations))
	c.pool.WithLabelValues("reuses").Set(float64(s.Reuses))
	c.pool.WithLabelValues("evictions").Set(float64(s.Evictions))
	c.pool.WithLabelValues("live").Set(float64(s.Live))
}

// WriteTextfile writes all metrics to path atomically.
func (c *Collector) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, c.reg)
}
