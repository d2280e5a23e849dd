package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerRendersHTTPAndOrchestrationMetrics(t *testing.T) {
	ObserveHTTPRequest("/api/v1/requests", "POST", 200, 120*time.Millisecond)
	ObserveHTTPRequest("/api/v1/requests", "POST", 502, 3*time.Second)
	ObserveRequest("multi", "done")
	ObserveStep("skipped")
	ObservePhase("plan", 700*time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		`contentflow_http_requests_total{handler="/api/v1/requests",method="POST",code="200"}`,
		`contentflow_http_request_errors_total{handler="/api/v1/requests",method="POST"} 1`,
		`contentflow_requests_total{mode="multi",outcome="done"}`,
		`contentflow_steps_total{status="skipped"}`,
		`contentflow_phase_duration_seconds_bucket{phase="plan",le="1"}`,
		"# TYPE contentflow_steps_total counter",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, text)
		}
	}
}

func TestCounterIncrements(t *testing.T) {
	success := labels("status", "success")
	before := defaultRegistry.counterValue("contentflow_steps_total", success)
	ObserveStep("success")
	ObserveStep("success")
	if got := defaultRegistry.counterValue("contentflow_steps_total", success); got != before+2 {
		t.Fatalf("expected %d, got %d", before+2, got)
	}
}

func TestHistogramBuckets(t *testing.T) {
	h := newHistogram()
	h.observe(0.2)
	h.observe(20)
	if h.count != 2 || h.counts[0] != 0 || h.counts[2] != 1 || h.counts[len(h.counts)-1] != 1 {
		t.Fatalf("unexpected histogram state: %+v", h)
	}
}


func TestRegistryRenderIsSortedAndEscaped(t *testing.T) {
	r := newRegistry()
	r.inc("b_total", "B.", labels("tool", `say "hi"`))
	r.inc("a_total", "A.", labels("x", "2"))
	r.inc("a_total", "A.", labels("x", "1"))
	r.observe("c_seconds", "C.", labels("phase", "plan"), 0.3)

	want := "# HELP a_total A.\n# TYPE a_total counter\na_total{x=\"1\"} 1\na_total{x=\"2\"} 1\n" +
		"# HELP b_total B.\n# TYPE b_total counter\nb_total{tool=\"say \\\"hi\\\"\"} 1\n"
	out := r.render()
	if !strings.HasPrefix(out, want) {
		t.Fatalf("unexpected render:\n%s", out)
	}
	for _, line := range []string{
		`c_seconds_bucket{phase="plan",le="0.25"} 0`,
		`c_seconds_bucket{phase="plan",le="0.5"} 1`,
		`c_seconds_bucket{phase="plan",le="+Inf"} 1`,
		`c_seconds_count{phase="plan"} 1`,
	} {
		if !strings.Contains(out, line) {
			t.Fatalf("missing %q in:\n%s", line, out)
		}
	}
}
