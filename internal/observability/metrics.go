// Package observability holds the relay's Prometheus metrics.
//
// Metrics are registered on the registry passed to NewRelayMetrics, so tests
// can use an isolated prometheus.NewRegistry() and the server can expose the
// same registry on /metrics. A nil *RelayMetrics is valid and records nothing.
package observability

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "relay"

// Gateway event directions.
const (
	DirectionInbound  = "in"
	DirectionOutbound = "out"
)

type RelayMetrics struct {
	// Labels: method (/Core/Hello, ...), outcome (success, error)
	RemoteCallsTotal *prometheus.CounterVec
	// Labels: method
	RemoteCallDurationSeconds *prometheus.HistogramVec

	// Labels: outcome (done, failed, superseded)
	RunsTotal *prometheus.CounterVec
	// Labels: step (handshaking, searching, scoring, describing)
	StepDurationSeconds *prometheus.HistogramVec
	// Solutions discovered by orchestrated searches.
	SolutionsDiscoveredTotal prometheus.Counter

	// Labels: direction (in, out), event
	GatewayEventsTotal *prometheus.CounterVec
	GatewayClients     prometheus.Gauge

	gatherer prometheus.Gatherer
}

// NewRelayMetrics registers every metric on reg. reg must also implement
// prometheus.Gatherer for Handler to serve it; *prometheus.Registry does.
func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	factory := promauto.With(reg)
	m := &RelayMetrics{
		RemoteCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "ta2",
				Name:      "calls_total",
				Help:      "Remote TA2 calls by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		RemoteCallDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "ta2",
				Name:      "call_duration_seconds",
				Help:      "Remote TA2 call latency in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120, 600},
			},
			[]string{"method"},
		),
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "orchestrator",
				Name:      "runs_total",
				Help:      "Finished orchestration runs by outcome",
			},
			[]string{"outcome"},
		),
		StepDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "orchestrator",
				Name:      "step_duration_seconds",
				Help:      "Time spent in each orchestration step in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 30, 60, 300, 900},
			},
			[]string{"step"},
		),
		SolutionsDiscoveredTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "orchestrator",
				Name:      "solutions_discovered_total",
				Help:      "Distinct solutions discovered by orchestrated searches",
			},
		),
		GatewayEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "gateway",
				Name:      "events_total",
				Help:      "Front-end events by direction and name",
			},
			[]string{"direction", "event"},
		),
		GatewayClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "gateway",
				Name:      "clients",
				Help:      "Currently connected front-end clients",
			},
		),
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// ObserveCall implements ta2.CallObserver.
func (m *RelayMetrics) ObserveCall(method, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RemoteCallsTotal.WithLabelValues(method, outcome).Inc()
	m.RemoteCallDurationSeconds.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *RelayMetrics) ObserveRun(outcome string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(strings.ToLower(outcome)).Inc()
}

func (m *RelayMetrics) ObserveStep(step string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.StepDurationSeconds.WithLabelValues(strings.ToLower(step)).Observe(elapsed.Seconds())
}

func (m *RelayMetrics) SolutionDiscovered() {
	if m == nil {
		return
	}
	m.SolutionsDiscoveredTotal.Inc()
}

func (m *RelayMetrics) ObserveEvent(direction, event string) {
	if m == nil {
		return
	}
	m.GatewayEventsTotal.WithLabelValues(direction, event).Inc()
}

func (m *RelayMetrics) ClientConnected() {
	if m == nil {
		return
	}
	m.GatewayClients.Inc()
}

func (m *RelayMetrics) ClientDisconnected() {
	if m == nil {
		return
	}
	m.GatewayClients.Dec()
}

// Handler serves the registry in the Prometheus text format.
func (m *RelayMetrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
