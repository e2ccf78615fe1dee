package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace      = "discovery_proxy"
	unmatchedRoute = "unmatched"
	outcomeOK      = "ok"
)

// Exporter holds the Prometheus view of the proxy on its own registry.
type Exporter struct {
	registry      *prometheus.Registry
	registrations *prometheus.CounterVec
	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
}

func NewExporter() *Exporter {
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Registration requests accepted, by route.",
		}, []string{"route"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Proxied requests, by route and outcome code.",
		}, []string{"route", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "forward_duration_seconds",
			Help:      "Latency of successful backend calls, by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	e.registry.MustRegister(
		e.registrations,
		e.requests,
		e.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return e
}

func (e *Exporter) observeRegistration(route string) {
	e.registrations.WithLabelValues(route).Inc()
}

func (e *Exporter) observeResponse(route string, duration time.Duration) {
	e.requests.WithLabelValues(route, outcomeOK).Inc()
	e.duration.WithLabelValues(route).Observe(duration.Seconds())
}

func (e *Exporter) observeFailure(route, code string) {
	e.requests.WithLabelValues(route, code).Inc()
}

func (e *Exporter) observeUnmatched(code string) {
	e.requests.WithLabelValues(unmatchedRoute, code).Inc()
}

// RequestsTotal returns the counter vector behind requests_total.
func (e *Exporter) RequestsTotal() *prometheus.CounterVec {
	return e.requests
}

// RegistrationsTotal returns the counter vector behind registrations_total.
func (e *Exporter) RegistrationsTotal() *prometheus.CounterVec {
	return e.registrations
}

// Handler serves the exposition format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{Registry: e.registry})
}
