// Package metrics collects and exposes Prometheus metrics for the server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what services and middleware depend on.
type Recorder interface {
	RecordRequest(route, method string, status int, duration time.Duration)
	RecordAuth(operation, result string)
	RecordDocumentWrite(collection, operation string)
	RecordRateLimited(scope string)
	SetLiveSubscriptions(n int)
}

type Collector struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	auth            *prometheus.CounterVec
	documentWrites  *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
	liveSubs        prometheus.Gauge
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devtoolkit_http_requests_total",
			Help: "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "status_code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "devtoolkit_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		auth: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devtoolkit_auth_operations_total",
			Help: "Identity operations by operation and result.",
		}, []string{"operation", "result"}),
		documentWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devtoolkit_document_writes_total",
			Help: "Document writes by collection and operation.",
		}, []string{"collection", "operation"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devtoolkit_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		}, []string{"scope"}),
		liveSubs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "devtoolkit_live_subscriptions",
			Help: "Open live collection subscriptions.",
		}),
	}

	reg.MustRegister(
		c.requests,
		c.requestDuration,
		c.auth,
		c.documentWrites,
		c.rateLimited,
		c.liveSubs,
	)

	return c
}

func (c *Collector) RecordRequest(route, method string, status int, duration time.Duration) {
	c.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

func (c *Collector) RecordAuth(operation, result string) {
	c.auth.WithLabelValues(operation, result).Inc()
}

func (c *Collector) RecordDocumentWrite(collection, operation string) {
	c.documentWrites.WithLabelValues(collection, operation).Inc()
}

func (c *Collector) RecordRateLimited(scope string) {
	c.rateLimited.WithLabelValues(scope).Inc()
}

func (c *Collector) SetLiveSubscriptions(n int) {
	c.liveSubs.Set(float64(n))
}

// Nop discards everything; used where no registry is wired.
type Nop struct{}

func (Nop) RecordRequest(string, string, int, time.Duration) {}
func (Nop) RecordAuth(string, string)                        {}
func (Nop) RecordDocumentWrite(string, string)               {}
func (Nop) RecordRateLimited(string)                         {}
func (Nop) SetLiveSubscriptions(int)                         {}

// Handler serves the gatherer's metrics for Prometheus scrapes.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
