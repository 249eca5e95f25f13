// Package metrics exposes the engine's Prometheus instruments. Metrics is
// both the engine's operation Recorder and an EventSink.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/alanyoungcy/polyoracle/internal/domain"
)

const (
	namespace = "polyoracle"
	subsystem = "engine"
)

// Operation results.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// Metrics holds every instrument registered by New.
type Metrics struct {
	Operations        *prometheus.CounterVec
	OperationLatency  *prometheus.HistogramVec
	Rejections        *prometheus.CounterVec
	Attestations      *prometheus.CounterVec
	Overrides         prometheus.Counter
	LastOverride      prometheus.Gauge
	Events            *prometheus.CounterVec
	RegisteredOracles prometheus.Gauge
}

// New registers the instruments with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "operations_total",
			Help:      "Engine operations by operation and result",
		}, []string{"op", "result"}),
		OperationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "operation_duration_seconds",
			Help:      "Engine operation latency, including lock wait",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"op"}),
		Rejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rejections_total",
			Help:      "Rejected operations by operation, error kind and code",
		}, []string{"op", "kind", "code"}),
		Attestations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "attestations_total",
			Help:      "Accepted attestations by outcome",
		}, []string{"outcome"}),
		Overrides: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "emergency_overrides_total",
			Help:      "Executed emergency overrides",
		}),
		LastOverride: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "last_override_timestamp_seconds",
			Help:      "Unix time of the most recent emergency override",
		}),
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_total",
			Help:      "Committed audit events by type",
		}, []string{"type"}),
		RegisteredOracles: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "registered_oracles",
			Help:      "Oracles registered since process start",
		}),
	}
}

// ObserveOperation records one engine call. Classified errors count as
// rejections; anything else is an internal error.
func (m *Metrics) ObserveOperation(op string, err error, elapsed time.Duration) {
	m.OperationLatency.WithLabelValues(op).Observe(elapsed.Seconds())

	if err == nil {
		m.Operations.WithLabelValues(op, ResultOK).Inc()
		return
	}
	kind := domain.KindOf(err)
	if kind == domain.KindInternal {
		m.Operations.WithLabelValues(op, ResultError).Inc()
		return
	}
	m.Operations.WithLabelValues(op, ResultRejected).Inc()
	_, code := domain.CodeOf(err)
	m.Rejections.WithLabelValues(op, kind.String(), strconv.FormatUint(uint64(code), 10)).Inc()
}

// Publish implements domain.EventSink.
func (m *Metrics) Publish(_ context.Context, ev domain.Event) error {
	m.Events.WithLabelValues(string(ev.Type)).Inc()

	switch ev.Type {
	case domain.EventAttestationSubmitted:
		m.Attestations.WithLabelValues(outcomeLabel(ev.Attributes["outcome"])).Inc()
	case domain.EventOracleRegistered:
		m.RegisteredOracles.Inc()
	case domain.EventEmergencyOverride:
		m.Overrides.Inc()
		if !ev.Timestamp.IsZero() {
			m.LastOverride.Set(float64(ev.Timestamp.Unix()))
		}
	}
	return nil
}

func outcomeLabel(v any) string {
	switch o := v.(type) {
	case uint32:
		return domain.Outcome(o).String()
	case domain.Outcome:
		return o.String()
	case float64:
		return domain.Outcome(uint32(o)).String()
	default:
		return "unknown"
	}
}

var _ domain.EventSink = (*Metrics)(nil)
