// Package metrics exposes prometheus counters for gateway requests, upstream attempts,
// retries, fallbacks and token refreshes. A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry so that several instances can coexist in tests.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	upstreamAttempts *prometheus.CounterVec
	retries          *prometheus.CounterVec
	fallbacks        *prometheus.CounterVec
	tokenRefreshes   *prometheus.CounterVec
}

// NewCollector registers the gateway metrics under namespace.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of gateway requests by endpoint and response status",
			},
			[]string{"endpoint", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Gateway request duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"endpoint"},
		),
		upstreamAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_attempts_total",
				Help:      "Upstream generate calls by model and response status",
			},
			[]string{"model", "status"},
		),
		retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_retries_total",
				Help:      "Backoff retries scheduled after rate limiting",
			},
			[]string{"model"},
		),
		fallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fallbacks_total",
				Help:      "Fallback model substitutions by reason",
			},
			[]string{"reason"},
		),
		tokenRefreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_refreshes_total",
				Help:      "Bearer token refreshes by source and result",
			},
			[]string{"source", "result"},
		),
	}
}

// Handler serves the registry in the prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// RecordRequest counts one gateway response.
func (c *Collector) RecordRequest(endpoint string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	c.requestsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordUpstreamAttempt counts one upstream call. status 0 means a transport failure.
func (c *Collector) RecordUpstreamAttempt(model string, status int) {
	if c == nil {
		return
	}
	c.upstreamAttempts.WithLabelValues(model, strconv.Itoa(status)).Inc()
}

// RecordRetry counts one scheduled backoff.
func (c *Collector) RecordRetry(model string) {
	if c == nil {
		return
	}
	c.retries.WithLabelValues(model).Inc()
}

// RecordFallback counts one fallback substitution.
func (c *Collector) RecordFallback(reason string) {
	if c == nil {
		return
	}
	c.fallbacks.WithLabelValues(reason).Inc()
}

// RecordTokenRefresh counts one token refresh attempt through source.
func (c *Collector) RecordTokenRefresh(source string, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.tokenRefreshes.WithLabelValues(source, result).Inc()
}
