package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// ClientGolangCollector adapts a Registry to the
// github.com/prometheus/client_golang prometheus.Collector interface,
// for hosts whose scrape infrastructure expects the real client
// library's registration and content negotiation. It is independent of
// PrometheusExporter; the two can serve side by side.
type ClientGolangCollector struct {
	registry  *Registry
	namespace string
}

// NewClientGolangCollector returns a collector that snapshots registry
// on every scrape, exposing metrics under the given namespace.
func NewClientGolangCollector(registry *Registry, namespace string) *ClientGolangCollector {
	return &ClientGolangCollector{registry: registry, namespace: namespace}
}

// Describe implements prometheus.Collector. The metric set is dynamic
// (the Registry creates metrics on first access), so Describe sends
// nothing, making this an unchecked collector in client_golang's
// terms, the documented way to expose a dynamically-named metric set.
func (c *ClientGolangCollector) Describe(ch chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector.
func (c *ClientGolangCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.registry.Snapshot()

	for name, v := range snap.Counters {
		c.emit(ch, name, prometheus.CounterValue, float64(v))
	}
	for name, v := range snap.Gauges {
		c.emit(ch, name, prometheus.GaugeValue, float64(v))
	}
	for name, h := range snap.Histograms {
		c.emit(ch, name+".count", prometheus.GaugeValue, float64(h.Count))
		c.emit(ch, name+".sum", prometheus.GaugeValue, h.Sum)
		c.emit(ch, name+".min", prometheus.GaugeValue, h.Min)
		c.emit(ch, name+".max", prometheus.GaugeValue, h.Max)
		c.emit(ch, name+".mean", prometheus.GaugeValue, h.Mean)
	}
	for name, m := range snap.Meters {
		c.emit(ch, name+".count", prometheus.CounterValue, float64(m.Count))
		c.emit(ch, name+".rate1", prometheus.GaugeValue, m.Rate1)
		c.emit(ch, name+".rate5", prometheus.GaugeValue, m.Rate5)
		c.emit(ch, name+".rate_mean", prometheus.GaugeValue, m.RateMean)
	}
}

func (c *ClientGolangCollector) emit(ch chan<- prometheus.Metric, name string, kind prometheus.ValueType, v float64) {
	desc := prometheus.NewDesc(c.fqName(name), name, nil, nil)
	ch <- prometheus.MustNewConstMetric(desc, kind, v)
}

func (c *ClientGolangCollector) fqName(name string) string {
	sanitized := strings.Map(func(r rune) rune {
		if r == '.' || r == '-' {
			return '_'
		}
		return r
	}, name)
	if c.namespace == "" {
		return sanitized
	}
	return c.namespace + "_" + sanitized
}
