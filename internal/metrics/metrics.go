// Package metrics holds the prometheus collectors for the inference service
// and the HTTP edge. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tenderguide"

type Metrics struct {
	reg *prometheus.Registry

	buildInfo          *prometheus.GaugeVec
	modelLoads         *prometheus.CounterVec
	loadDuration       prometheus.Histogram
	modelReady         prometheus.Gauge
	generations        *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	generatedTokens    prometheus.Counter
	promptTokens       prometheus.Histogram
	lockWait           prometheus.Histogram
	degenerateRetries  prometheus.Counter
	httpRequests       *prometheus.CounterVec
	cacheLookups       *prometheus.CounterVec
}

// New builds the collectors on a private registry that also carries the Go
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information.",
		}, []string{"version", "commit"}),
		modelLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_loads_total",
			Help:      "Model load attempts by result.",
		}, []string{"result"}),
		loadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_load_duration_seconds",
			Help:      "Time spent loading tokenizer, weights and adapter.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}),
		modelReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_ready",
			Help:      "1 once the model handle is published.",
		}),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Answer generations by decoding mode and outcome.",
		}, []string{"mode", "outcome"}),
		generationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Wall time of a single decode call.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		}, []string{"mode"}),
		generatedTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generated_tokens_total",
			Help:      "Tokens produced by the decode loop.",
		}),
		promptTokens: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prompt_tokens",
			Help:      "Prompt length in tokens.",
			Buckets:   prometheus.ExponentialBuckets(16, 2, 9),
		}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_lock_wait_seconds",
			Help:      "Time spent waiting for the generation lock.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		degenerateRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degenerate_retries_total",
			Help:      "Generations retried because the output looked degenerate.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answer_cache_lookups_total",
			Help:      "Answer cache lookups by result.",
		}, []string{"result"}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.buildInfo,
		m.modelLoads,
		m.loadDuration,
		m.modelReady,
		m.generations,
		m.generationDuration,
		m.generatedTokens,
		m.promptTokens,
		m.lockWait,
		m.degenerateRetries,
		m.httpRequests,
		m.cacheLookups,
	)
	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) SetBuildInfo(version, commit string) {
	if m == nil {
		return
	}
	m.buildInfo.WithLabelValues(version, commit).Set(1)
}

// ModelLoaded records one load attempt.
func (m *Metrics) ModelLoaded(d time.Duration, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.modelLoads.WithLabelValues("error").Inc()
		return
	}
	m.modelLoads.WithLabelValues("ok").Inc()
	m.loadDuration.Observe(d.Seconds())
	m.modelReady.Set(1)
}

func (m *Metrics) LockWaited(d time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(d.Seconds())
}

// Generated records a finished decode call. mode is "deterministic" or
// "sampling".
func (m *Metrics) Generated(mode string, promptTokens, tokens int, d time.Duration, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.generations.WithLabelValues(mode, "error").Inc()
		return
	}
	m.generations.WithLabelValues(mode, "ok").Inc()
	m.generationDuration.WithLabelValues(mode).Observe(d.Seconds())
	m.generatedTokens.Add(float64(tokens))
	m.promptTokens.Observe(float64(promptTokens))
}

func (m *Metrics) DegenerateRetry() {
	if m == nil {
		return
	}
	m.degenerateRetries.Inc()
}

func (m *Metrics) HTTPRequest(route string, code int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, codeLabel(code)).Inc()
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

func codeLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
