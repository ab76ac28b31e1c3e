package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorders(t *testing.T) {
	t.Parallel()
	m := New()
	m.SetBuildInfo("1.0.0", "abc")
	m.ModelLoaded(2*time.Second, nil)
	m.ModelLoaded(0, errors.New("boom"))
	m.Generated("deterministic", 40, 12, time.Second, nil)
	m.Generated("sampling", 40, 0, 0, errors.New("boom"))
	m.DegenerateRetry()
	m.LockWaited(time.Millisecond)
	m.HTTPRequest("/api/generate", 200)
	m.HTTPRequest("/api/generate", 400)
	m.CacheLookup(true)
	m.CacheLookup(false)
	m.CacheLookup(false)

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"loads ok", testutil.ToFloat64(m.modelLoads.WithLabelValues("ok")), 1},
		{"loads error", testutil.ToFloat64(m.modelLoads.WithLabelValues("error")), 1},
		{"ready", testutil.ToFloat64(m.modelReady), 1},
		{"gen ok", testutil.ToFloat64(m.generations.WithLabelValues("deterministic", "ok")), 1},
		{"gen error", testutil.ToFloat64(m.generations.WithLabelValues("sampling", "error")), 1},
		{"tokens", testutil.ToFloat64(m.generatedTokens), 12},
		{"retries", testutil.ToFloat64(m.degenerateRetries), 1},
		{"http 2xx", testutil.ToFloat64(m.httpRequests.WithLabelValues("/api/generate", "2xx")), 1},
		{"http 4xx", testutil.ToFloat64(m.httpRequests.WithLabelValues("/api/generate", "4xx")), 1},
		{"cache miss", testutil.ToFloat64(m.cacheLookups.WithLabelValues("miss")), 2},
		{"build", testutil.ToFloat64(m.buildInfo.WithLabelValues("1.0.0", "abc")), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	t.Parallel()
	var m *Metrics
	m.ModelLoaded(time.Second, nil)
	m.Generated("deterministic", 1, 1, time.Second, nil)
	m.DegenerateRetry()
	m.LockWaited(0)
	m.HTTPRequest("/", 200)
	m.CacheLookup(true)
	if m.Registry() != nil {
		t.Fatal("nil metrics returned a registry")
	}
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Fatalf("code = %d", rec.Code)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	t.Parallel()
	m := New()
	m.DegenerateRetry()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{"tenderguide_degenerate_retries_total 1", "go_goroutines"} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q", want)
		}
	}
}
