package recordstore

import (
	"context"
	"errors"
	"time"

	"github.com/cloudflow/saga/infrastructure/metrics"
)

// Instrumented wraps a Store with Prometheus counters and duration
// histograms for every operation, keyed by op name and outcome. Every
// other component depends only on the Store interface, so wrapping is
// transparent: construct once at wiring time and pass the result wherever
// a bare Store would go.
type Instrumented struct {
	Store
	metrics *metrics.Metrics
}

// NewInstrumented wraps store with m. m may be nil, in which case
// metrics.Global() is used.
func NewInstrumented(store Store, m *metrics.Metrics) *Instrumented {
	if m == nil {
		m = metrics.Global()
	}
	return &Instrumented{Store: store, metrics: m}
}

func (i *Instrumented) observe(op string, start time.Time, err error) {
	i.metrics.RecordStoreOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	i.metrics.RecordStoreOpsTotal.WithLabelValues(op, outcomeLabel(err)).Inc()
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrVersionMismatch):
		return "version_mismatch"
	case errors.Is(err, ErrGuardFailed):
		return "guard_failed"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

func (i *Instrumented) Get(ctx context.Context, key string, consistency Consistency) (Record, error) {
	start := time.Now()
	rec, err := i.Store.Get(ctx, key, consistency)
	i.observe("get", start, err)
	return rec, err
}

func (i *Instrumented) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (Record, error) {
	start := time.Now()
	rec, err := i.Store.PutIfAbsent(ctx, key, value, ttl)
	i.observe("put_if_absent", start, err)
	return rec, err
}

func (i *Instrumented) CompareAndSet(ctx context.Context, key string, expectedVersion int64, value []byte, ttl time.Duration) (Record, error) {
	start := time.Now()
	rec, err := i.Store.CompareAndSet(ctx, key, expectedVersion, value, ttl)
	i.observe("compare_and_set", start, err)
	return rec, err
}

func (i *Instrumented) Add(ctx context.Context, key string, delta int64, guard func(int64) bool) (int64, error) {
	start := time.Now()
	result, err := i.Store.Add(ctx, key, delta, guard)
	i.observe("add", start, err)
	return result, err
}

func (i *Instrumented) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := i.Store.Delete(ctx, key)
	i.observe("delete", start, err)
	return err
}
