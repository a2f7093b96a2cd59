// Package metrics holds the Prometheus instrumentation for bearer.
//
// bearer is a short-lived CLI, so nothing is scraped. Metrics are collected in
// a private registry and, when configured, written once on exit in the
// node_exporter textfile collector format (see WriteTextfile).
//
// All recording methods are safe to call on a nil *Metrics, which lets
// library callers run without instrumentation.
package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus collectors for token lifecycle monitoring
type Metrics struct {
	registry *prometheus.Registry

	// Token endpoint exchanges by grant type and outcome
	TokenExchangesTotal *prometheus.CounterVec

	// Token endpoint latency by grant type (in seconds)
	TokenExchangeDurationSeconds *prometheus.HistogramVec

	// Requests served by the callback listener by status code
	CallbackRequestsTotal *prometheus.CounterVec

	// Lifecycle decisions (reuse, refresh, authorize, not_registered, reauthorization_required)
	LifecycleDecisionsTotal *prometheus.CounterVec

	// Expiry of the current access token per client (unix seconds)
	TokenExpiryTimestamp *prometheus.GaugeVec

	// Token endpoint circuit breaker state (0 closed, 1 open, 2 half-open)
	CircuitBreakerState *prometheus.GaugeVec

	// Build info gauge
	BuildInfo *prometheus.GaugeVec
}

// New creates the collectors and registers them with a fresh registry
func New(version string) (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		TokenExchangesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bearer_token_exchanges_total",
			Help: "Total number of token endpoint exchanges by grant type and outcome",
		}, []string{"grant_type", "outcome"}),

		// Buckets: 50ms .. 6.4s
		TokenExchangeDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bearer_token_exchange_duration_seconds",
			Help:    "Time taken by token endpoint exchanges in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 8),
		}, []string{"grant_type"}),

		CallbackRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bearer_callback_requests_total",
			Help: "Total number of requests answered by the local callback listener by status code",
		}, []string{"code"}),

		LifecycleDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bearer_lifecycle_decisions_total",
			Help: "Total number of token lifecycle decisions by action",
		}, []string{"action"}),

		TokenExpiryTimestamp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bearer_token_expiry_timestamp_seconds",
			Help: "Unix timestamp at which the current access token expires",
		}, []string{"client"}),

		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bearer_circuit_breaker_state",
			Help: "State of the token endpoint circuit breaker (0=closed, 1=open, 2=half-open)",
		}, []string{"breaker"}),

		BuildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bearer_build_info",
			Help: "Build information for bearer (value is always 1)",
		}, []string{"version"}),
	}

	if err := m.register(); err != nil {
		return nil, err
	}

	m.BuildInfo.WithLabelValues(version).Set(1)

	return m, nil
}

func (m *Metrics) register() error {
	collectors := []prometheus.Collector{
		m.TokenExchangesTotal,
		m.TokenExchangeDurationSeconds,
		m.CallbackRequestsTotal,
		m.LifecycleDecisionsTotal,
		m.TokenExpiryTimestamp,
		m.CircuitBreakerState,
		m.BuildInfo,
	}
	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			return fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return nil
}

// Registry returns the registry holding all bearer metrics
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordExchange records one token endpoint exchange
func (m *Metrics) RecordExchange(grantType, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.TokenExchangesTotal.WithLabelValues(grantType, outcome).Inc()
	m.TokenExchangeDurationSeconds.WithLabelValues(grantType).Observe(duration.Seconds())
}

// RecordCallbackRequest records one response written by the callback listener
func (m *Metrics) RecordCallbackRequest(statusCode int) {
	if m == nil {
		return
	}
	m.CallbackRequestsTotal.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordDecision records a lifecycle decision
func (m *Metrics) RecordDecision(action string) {
	if m == nil {
		return
	}
	m.LifecycleDecisionsTotal.WithLabelValues(action).Inc()
}

// SetTokenExpiry records the expiry instant of the client's current token
func (m *Metrics) SetTokenExpiry(client string, expiresAt time.Time) {
	if m == nil {
		return
	}
	m.TokenExpiryTimestamp.WithLabelValues(client).Set(float64(expiresAt.Unix()))
}

// SetCircuitBreakerState records the current state of a circuit breaker
func (m *Metrics) SetCircuitBreakerState(breaker string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(breaker).Set(float64(state))
}

// WriteTextfile writes all metrics to path in the text exposition format.
// The file is replaced atomically, as the textfile collector expects.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
