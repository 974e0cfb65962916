package metrics

import (
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"strings"
)

// PrometheusConfig configures the text-format exporter.
type PrometheusConfig struct {
	// Namespace is prepended to every metric name, so "syncpeerd" and
	// "sync.messages.sent" expose as "syncpeerd_sync_messages_sent".
	Namespace string
	// EnableRuntime adds goroutine, memory, and GC gauges to the output.
	EnableRuntime bool
	// Path is the HTTP path Handler serves on. Defaults to "/metrics".
	Path string
}

// DefaultPrometheusConfig returns the exporter defaults.
func DefaultPrometheusConfig() PrometheusConfig {
	return PrometheusConfig{
		Namespace:     "syncpeerd",
		EnableRuntime: true,
		Path:          "/metrics",
	}
}

// PrometheusExporter renders a Registry in Prometheus text exposition
// format (version 0.0.4) over HTTP. It snapshots the registry on every
// scrape and holds no state of its own.
type PrometheusExporter struct {
	cfg      PrometheusConfig
	registry *Registry
}

// NewPrometheusExporter returns an exporter reading from registry.
func NewPrometheusExporter(registry *Registry, cfg PrometheusConfig) *PrometheusExporter {
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}
	return &PrometheusExporter{cfg: cfg, registry: registry}
}

// Handler returns an http.Handler serving the configured path.
func (pe *PrometheusExporter) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(pe.cfg.Path, pe.serveMetrics)
	return mux
}

func (pe *PrometheusExporter) serveMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.Write([]byte(pe.Render()))
}

// Render produces the full exposition text for the current registry
// contents.
func (pe *PrometheusExporter) Render() string {
	snap := pe.registry.Snapshot()
	var b strings.Builder

	type line struct {
		name  string
		kind  string
		value float64
	}
	var lines []line

	for name, v := range snap.Counters {
		lines = append(lines, line{pe.fqName(name), "counter", float64(v)})
	}
	for name, v := range snap.Gauges {
		lines = append(lines, line{pe.fqName(name), "gauge", float64(v)})
	}
	for name, h := range snap.Histograms {
		base := pe.fqName(name)
		lines = append(lines,
			line{base + "_count", "gauge", float64(h.Count)},
			line{base + "_sum", "gauge", h.Sum},
			line{base + "_min", "gauge", h.Min},
			line{base + "_max", "gauge", h.Max},
			line{base + "_mean", "gauge", h.Mean},
		)
	}
	for name, m := range snap.Meters {
		base := pe.fqName(name)
		lines = append(lines,
			line{base + "_count", "counter", float64(m.Count)},
			line{base + "_rate1", "gauge", m.Rate1},
			line{base + "_rate5", "gauge", m.Rate5},
			line{base + "_rate_mean", "gauge", m.RateMean},
		)
	}

	if pe.cfg.EnableRuntime {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		lines = append(lines,
			line{pe.fqName("go.goroutines"), "gauge", float64(runtime.NumGoroutine())},
			line{pe.fqName("go.heap_alloc_bytes"), "gauge", float64(ms.HeapAlloc)},
			line{pe.fqName("go.heap_objects"), "gauge", float64(ms.HeapObjects)},
			line{pe.fqName("go.gc_runs"), "counter", float64(ms.NumGC)},
		)
	}

	sort.Slice(lines, func(i, j int) bool { return lines[i].name < lines[j].name })
	for _, l := range lines {
		fmt.Fprintf(&b, "# TYPE %s %s\n%s %g\n", l.name, l.kind, l.name, l.value)
	}
	return b.String()
}

// fqName sanitizes a dotted metric name into a Prometheus identifier
// under the configured namespace.
func (pe *PrometheusExporter) fqName(name string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch r {
		case '.', '-', ' ':
			return '_'
		}
		return r
	}, name)
	if pe.cfg.Namespace == "" {
		return sanitized
	}
	return pe.cfg.Namespace + "_" + sanitized
}
