// Package metrics exposes Prometheus instrumentation for Daikin Cloud Core.
//
// A nil *Metrics is valid and turns every recording method into a no-op,
// which keeps instrumentation optional in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes application metrics that are safe to scrape via Prometheus.
type Metrics struct {
	registry            *prometheus.Registry
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	pollRunsTotal       prometheus.Counter
	pollErrorsTotal     *prometheus.CounterVec
	pollDuration        prometheus.Histogram
	commandsTotal       *prometheus.CounterVec
	loginsTotal         *prometheus.CounterVec
	invalidationsTotal  prometheus.Counter
	unitsGauge          prometheus.Gauge
}

// New creates a fresh Metrics registry with all collectors registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "daikincloud",
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests processed by the API server",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "daikincloud",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests served by the API server",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	pollRunsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "daikincloud",
		Name:      "poll_runs_total",
		Help:      "Total number of status poll cycles",
	})

	pollErrorsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "daikincloud",
		Name:      "poll_errors_total",
		Help:      "Poll cycles that failed, by reason",
	}, []string{"reason"})

	pollDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "daikincloud",
		Name:      "poll_duration_seconds",
		Help:      "Duration of a full status poll cycle",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	commandsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "daikincloud",
		Name:      "commands_total",
		Help:      "Dispatched commands, by type and outcome",
	}, []string{"type", "outcome"})

	loginsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "daikincloud",
		Name:      "logins_total",
		Help:      "Cloud login attempts, by outcome",
	}, []string{"outcome"})

	invalidationsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "daikincloud",
		Name:      "session_invalidations_total",
		Help:      "Sessions discarded after the cloud rejected them",
	})

	unitsGauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "daikincloud",
		Name:      "units",
		Help:      "Number of units currently in the registry",
	})

	registry.MustRegister(
		httpRequests,
		httpRequestDuration,
		pollRunsTotal,
		pollErrorsTotal,
		pollDuration,
		commandsTotal,
		loginsTotal,
		invalidationsTotal,
		unitsGauge,
	)

	return &Metrics{
		registry:            registry,
		httpRequests:        httpRequests,
		httpRequestDuration: httpRequestDuration,
		pollRunsTotal:       pollRunsTotal,
		pollErrorsTotal:     pollErrorsTotal,
		pollDuration:        pollDuration,
		commandsTotal:       commandsTotal,
		loginsTotal:         loginsTotal,
		invalidationsTotal:  invalidationsTotal,
		unitsGauge:          unitsGauge,
	}
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// ObservePoll records a completed poll cycle.
func (m *Metrics) ObservePoll(duration time.Duration) {
	if m == nil {
		return
	}
	m.pollRunsTotal.Inc()
	m.pollDuration.Observe(duration.Seconds())
}

// IncPollError counts a failed poll cycle.
func (m *Metrics) IncPollError(reason string) {
	if m == nil {
		return
	}
	m.pollErrorsTotal.WithLabelValues(reason).Inc()
}

// IncCommand counts a dispatched command by type and outcome.
func (m *Metrics) IncCommand(cmdType, outcome string) {
	if m == nil {
		return
	}
	m.commandsTotal.WithLabelValues(cmdType, outcome).Inc()
}

// IncLogin counts a login attempt.
func (m *Metrics) IncLogin(outcome string) {
	if m == nil {
		return
	}
	m.loginsTotal.WithLabelValues(outcome).Inc()
}

// IncSessionInvalidation counts a discarded session.
func (m *Metrics) IncSessionInvalidation() {
	if m == nil {
		return
	}
	m.invalidationsTotal.Inc()
}

// SetUnits records the current registry size.
func (m *Metrics) SetUnits(n int) {
	if m == nil {
		return
	}
	m.unitsGauge.Set(float64(n))
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
