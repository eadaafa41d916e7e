// Package metrics provides Prometheus metrics for the gateway.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for request and CoAP exchange latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Metrics holds all Prometheus metric collectors for the gateway.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	PipelineResponses *prometheus.CounterVec

	CacheRequests  *prometheus.CounterVec
	CacheEvictions *prometheus.CounterVec
	CacheEntries   prometheus.Gauge

	AdmissionRejections *prometheus.CounterVec
	AdmissionInFlight   prometheus.Gauge

	TargetDuration  *prometheus.HistogramVec
	TargetResponses *prometheus.CounterVec
	TargetErrors    *prometheus.CounterVec
	TokensInFlight  prometheus.Gauge

	InboundCoAPRequests prometheus.Counter
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coap_gateway_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coap_gateway_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coap_gateway_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		PipelineResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coap_gateway_pipeline_responses_total",
			Help: "Pipeline responses by the layer that produced them.",
		}, []string{"source"}),

		CacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coap_gateway_cache_requests_total",
			Help: "Cache lookups by result (hit, miss).",
		}, []string{"result"}),

		CacheEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coap_gateway_cache_evictions_total",
			Help: "Cache entries removed, by reason (expired, capacity).",
		}, []string{"reason"}),

		CacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coap_gateway_cache_entries",
			Help: "Number of responses currently cached.",
		}),

		AdmissionRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coap_gateway_admission_rejections_total",
			Help: "Requests rejected by admission control, by reason (in_flight, rate).",
		}, []string{"reason"}),

		AdmissionInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coap_gateway_admission_in_flight",
			Help: "Requests currently admitted past admission control.",
		}),

		TargetDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coap_gateway_target_exchange_duration_seconds",
			Help:    "CoAP exchange round-trip time in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		TargetResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coap_gateway_target_responses_total",
			Help: "CoAP replies by request method and response code.",
		}, []string{"method", "code"}),

		TargetErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coap_gateway_target_errors_total",
			Help: "Failed CoAP exchanges by kind (bad_request, timeout, transport).",
		}, []string{"kind"}),

		TokensInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coap_gateway_tokens_in_flight",
			Help: "CoAP tokens held by pending exchanges.",
		}),

		InboundCoAPRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coap_gateway_coap_inbound_requests_total",
			Help: "Requests received on the inbound CoAP listener.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.PipelineResponses,
		m.CacheRequests,
		m.CacheEvictions,
		m.CacheEntries,
		m.AdmissionRejections,
		m.AdmissionInFlight,
		m.TargetDuration,
		m.TargetResponses,
		m.TargetErrors,
		m.TokensInFlight,
		m.InboundCoAPRequests,
	)

	return m
}

// knownMethods lists the allowed method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"DISCOVER": true, "OBSERVE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownPrefixes lists the operational path label values. Everything else is
// a proxied resource and is labelled "proxy".
var knownPrefixes = []string{"/healthz", "/gateway/status", "/metrics"}

// NormalizePath returns a bounded path label for Prometheus metrics.
func NormalizePath(path string) string {
	for _, prefix := range knownPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "proxy"
}
