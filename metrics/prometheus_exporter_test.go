package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestExporter(runtime bool) (*Registry, *PrometheusExporter) {
	r := NewRegistry()
	pe := NewPrometheusExporter(r, PrometheusConfig{
		Namespace:     "testns",
		EnableRuntime: runtime,
		Path:          "/metrics",
	})
	return r, pe
}

func TestRenderCounterAndGauge(t *testing.T) {
	r, pe := newTestExporter(false)
	r.Counter("sync.messages.sent").Add(12)
	r.Gauge("peer.connected").Set(2)

	out := pe.Render()
	for _, want := range []string{
		"# TYPE testns_sync_messages_sent counter",
		"testns_sync_messages_sent 12",
		"# TYPE testns_peer_connected gauge",
		"testns_peer_connected 2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderHistogramFields(t *testing.T) {
	r, pe := newTestExporter(false)
	h := r.Histogram("sync.bloom.bytes")
	h.Observe(10)
	h.Observe(30)

	out := pe.Render()
	for _, want := range []string{
		"testns_sync_bloom_bytes_count 2",
		"testns_sync_bloom_bytes_sum 40",
		"testns_sync_bloom_bytes_min 10",
		"testns_sync_bloom_bytes_max 30",
		"testns_sync_bloom_bytes_mean 20",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderRuntimeMetrics(t *testing.T) {
	_, pe := newTestExporter(true)
	out := pe.Render()
	if !strings.Contains(out, "testns_go_goroutines") {
		t.Errorf("runtime metrics missing:\n%s", out)
	}
}

func TestHandlerServesTextFormat(t *testing.T) {
	r, pe := newTestExporter(false)
	r.Counter("c").Inc()

	srv := httptest.NewServer(pe.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
}

func TestHandlerRejectsPost(t *testing.T) {
	_, pe := newTestExporter(false)
	srv := httptest.NewServer(pe.Handler())
	defer srv.Close()

	resp, err := srv.Client().Post(srv.URL+"/metrics", "text/plain", nil)
	if err != nil {
		t.Fatalf("POST /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 405 {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestNamespaceOptional(t *testing.T) {
	r := NewRegistry()
	r.Counter("plain.name").Inc()
	pe := NewPrometheusExporter(r, PrometheusConfig{})
	out := pe.Render()
	if !strings.Contains(out, "plain_name 1") {
		t.Errorf("un-namespaced output wrong:\n%s", out)
	}
}
