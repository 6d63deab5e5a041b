// Package metrics provides Prometheus metrics collection for the SAGA core.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the SAGA core.
type Metrics struct {
	BreakerTransitionsTotal *prometheus.CounterVec
	BreakerRejectedTotal    *prometheus.CounterVec
	BreakerFailOpenTotal    *prometheus.CounterVec

	SagaStepsTotal    *prometheus.CounterVec
	SagaStepDuration  *prometheus.HistogramVec
	SagaCompensations *prometheus.CounterVec

	IdempotencyConflictsTotal *prometheus.CounterVec

	RecordStoreOpsTotal   *prometheus.CounterVec
	RecordStoreOpDuration *prometheus.HistogramVec
}

// New creates a Metrics instance registered against the default registerer.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered against a custom
// registerer (tests use prometheus.NewRegistry() to avoid collisions).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		BreakerTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloudflow_breaker_transitions_total",
				Help: "Total circuit breaker state transitions",
			},
			[]string{"dependency", "from", "to"},
		),
		BreakerRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloudflow_breaker_rejected_total",
				Help: "Total calls rejected by an open or half-open circuit breaker",
			},
			[]string{"dependency"},
		),
		BreakerFailOpenTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloudflow_breaker_fail_open_total",
				Help: "Total calls permitted because the record store was unavailable to consult breaker state",
			},
			[]string{"dependency"},
		),
		SagaStepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloudflow_saga_steps_total",
				Help: "Total SAGA step invocations",
			},
			[]string{"step", "outcome"},
		),
		SagaStepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cloudflow_saga_step_duration_seconds",
				Help:    "SAGA step duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"step"},
		),
		SagaCompensations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloudflow_saga_compensations_total",
				Help: "Total compensation sequences started, by reason",
			},
			[]string{"reason"},
		),
		IdempotencyConflictsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloudflow_idempotency_conflicts_total",
				Help: "Total IN_PROGRESS idempotency conflicts observed by callers",
			},
			[]string{"key_prefix"},
		),
		RecordStoreOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloudflow_record_store_ops_total",
				Help: "Total record store operations, by outcome",
			},
			[]string{"op", "outcome"},
		),
		RecordStoreOpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cloudflow_record_store_op_duration_seconds",
				Help:    "Record store operation duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"op"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.BreakerTransitionsTotal,
			m.BreakerRejectedTotal,
			m.BreakerFailOpenTotal,
			m.SagaStepsTotal,
			m.SagaStepDuration,
			m.SagaCompensations,
			m.IdempotencyConflictsTotal,
			m.RecordStoreOpsTotal,
			m.RecordStoreOpDuration,
		)
	}

	return m
}

var (
	global   *Metrics
	globalMu sync.Mutex
)

// Init initializes the global Metrics instance.
func Init() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = New()
	}
	return global
}

// Global returns the global Metrics instance, creating a no-op-registered
// one on first use so callers never need a nil check.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = NewWithRegistry(nil)
	}
	return global
}
