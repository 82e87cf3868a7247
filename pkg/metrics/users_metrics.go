// Package metrics exposes Prometheus metrics for the bus and HTTP paths.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Event outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeInvalid  = "invalid"
	OutcomeNotFound = "not_found"
	OutcomeConflict = "conflict"
	OutcomeFailed   = "failed"
)

// Recorder is what the bus consumers and HTTP middleware report to.
type Recorder interface {
	RecordEvent(routingKey, outcome string, duration time.Duration)
	RecordRequest(method, route string, status int, duration time.Duration)
	RecordBreakerState(name string, state int)
}

// Collector is the Prometheus implementation of Recorder.
type Collector struct {
	events          *prometheus.CounterVec
	eventDuration   *prometheus.HistogramVec
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	breakerState    *prometheus.GaugeVec
}

// NewCollector creates a Collector and registers its metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "users_bus_events_total",
			Help: "Bus events processed, by routing key and outcome.",
		}, []string{"routing_key", "outcome"}),
		eventDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "users_bus_event_duration_seconds",
			Help:    "Bus event handling latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"routing_key"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "users_http_requests_total",
			Help: "HTTP requests, by method, route and status code.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "users_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "users_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open).",
		}, []string{"name"}),
	}

	reg.MustRegister(
		c.events,
		c.eventDuration,
		c.requests,
		c.requestDuration,
		c.breakerState,
	)

	return c
}

// RecordEvent counts a handled bus event.
func (c *Collector) RecordEvent(routingKey, outcome string, duration time.Duration) {
	c.events.WithLabelValues(routingKey, outcome).Inc()
	c.eventDuration.WithLabelValues(routingKey).Observe(duration.Seconds())
}

// RecordRequest counts a served HTTP request. route is the route
// template, not the raw path, to keep label cardinality bounded.
func (c *Collector) RecordRequest(method, route string, status int, duration time.Duration) {
	c.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordBreakerState sets the current state of a named circuit breaker.
func (c *Collector) RecordBreakerState(name string, state int) {
	c.breakerState.WithLabelValues(name).Set(float64(state))
}

// Handler returns the Prometheus scrape handler.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordEvent(string, string, time.Duration)        {}
func (Nop) RecordRequest(string, string, int, time.Duration) {}
func (Nop) RecordBreakerState(string, int)                   {}
