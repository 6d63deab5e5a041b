// Package circuitbreaker implements the three-state breaker of spec §4.3,
// whose state lives in the record store so every worker observes one truth
// (an in-process breaker cannot provide this — see DESIGN.md).
package circuitbreaker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cloudflow/saga/infrastructure/config"
	cferrors "github.com/cloudflow/saga/infrastructure/errors"
	"github.com/cloudflow/saga/infrastructure/logging"
	"github.com/cloudflow/saga/infrastructure/metrics"
	"github.com/cloudflow/saga/internal/recordstore"
)

// State is one of the three breaker states.
type State string

const (
	Closed   State = "CLOSED"
	Open     State = "OPEN"
	HalfOpen State = "HALF_OPEN"
)

// Outcome is what Record reports about a completed (or probe) call.
type Outcome int

const (
	Success Outcome = iota
	Failure
)

const keyPrefix = "cb:"

type stateRecord struct {
	State                State     `json:"state"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	OpenedAt             time.Time `json:"opened_at"`
	ProbeInFlightAt      time.Time `json:"probe_in_flight_at"`
}

// Decision is the result of Allow.
type Decision struct {
	Permit     bool
	RetryAfter time.Duration
}

// Registry is the circuit breaker registry, shared by all workers through
// the record store.
type Registry struct {
	store    recordstore.Store
	policies *config.BreakerPolicies
	metrics  *metrics.Metrics
	logger   *logging.Logger
}

const maxCASAttempts = 5

// New constructs a Registry. policies supplies per-dependency tuning
// (defaults apply for dependencies absent from the map); m may be nil, in
// which case metrics.Global() is used.
func New(store recordstore.Store, policies *config.BreakerPolicies, m *metrics.Metrics) *Registry {
	if m == nil {
		m = metrics.Global()
	}
	return &Registry{store: store, policies: policies, metrics: m, logger: logging.Default()}
}

func (r *Registry) policyFor(dependency string) *config.DependencyPolicy {
	if r.policies != nil {
		if p := r.policies.GetPolicy(dependency); p != nil {
			return p
		}
	}
	if p := config.DefaultBreakerPolicies().GetPolicy(dependency); p != nil {
		return p
	}
	return &config.DependencyPolicy{
		Enabled:             true,
		FailThreshold:       5,
		SuccessThreshold:    2,
		CooldownSeconds:     60,
		ProbeTimeoutSeconds: 10,
	}
}

// Allow consults breaker state for dependency and atomically performs any
// state transition spec §4.3 requires (OPEN→HALF_OPEN after cooldown,
// HALF_OPEN probe admission). Fails open (returns Permit) if the record
// store is unavailable.
func (r *Registry) Allow(ctx context.Context, dependency string) (Decision, error) {
	policy := r.policyFor(dependency)
	if !policy.Enabled {
		return Decision{Permit: true}, nil
	}

	key := keyPrefix + dependency
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		rec, version, err := r.get(ctx, key)
		if err != nil {
			if errors.Is(err, recordstore.ErrUnavailable) {
				r.metrics.BreakerFailOpenTotal.WithLabelValues(dependency).Inc()
				return Decision{Permit: true}, nil
			}
			return Decision{}, err
		}

		switch rec.State {
		case Closed, "":
			return Decision{Permit: true}, nil

		case Open:
			cooldown := time.Duration(policy.CooldownSeconds) * time.Second
			if time.Now().Before(rec.OpenedAt.Add(cooldown)) {
				r.metrics.BreakerRejectedTotal.WithLabelValues(dependency).Inc()
				return Decision{Permit: false, RetryAfter: time.Until(rec.OpenedAt.Add(cooldown))}, nil
			}
			// Cooldown elapsed: race to become the probe.
			next := rec
			next.State = HalfOpen
			next.ConsecutiveSuccesses = 0
			next.ProbeInFlightAt = time.Now().UTC()
			if _, err := r.set(ctx, key, version, next); err != nil {
				if errors.Is(err, recordstore.ErrVersionMismatch) {
					continue // lost the race; re-read and decide again
				}
				if errors.Is(err, recordstore.ErrUnavailable) {
					r.metrics.BreakerFailOpenTotal.WithLabelValues(dependency).Inc()
					return Decision{Permit: true}, nil
				}
				return Decision{}, err
			}
			r.metrics.BreakerTransitionsTotal.WithLabelValues(dependency, string(Open), string(HalfOpen)).Inc()
			r.logger.LogCircuitTransition(ctx, dependency, string(Open), string(HalfOpen))
			return Decision{Permit: true}, nil

		case HalfOpen:
			probeTimeout := time.Duration(policy.ProbeTimeoutSeconds) * time.Second
			probeStale := rec.ProbeInFlightAt.IsZero() || time.Since(rec.ProbeInFlightAt) > probeTimeout
			if !probeStale {
				r.metrics.BreakerRejectedTotal.WithLabelValues(dependency).Inc()
				return Decision{Permit: false, RetryAfter: probeTimeout - time.Since(rec.ProbeInFlightAt)}, nil
			}
			next := rec
			next.ProbeInFlightAt = time.Now().UTC()
			if _, err := r.set(ctx, key, version, next); err != nil {
				if errors.Is(err, recordstore.ErrVersionMismatch) {
					continue
				}
				if errors.Is(err, recordstore.ErrUnavailable) {
					r.metrics.BreakerFailOpenTotal.WithLabelValues(dependency).Inc()
					return Decision{Permit: true}, nil
				}
				return Decision{}, err
			}
			return Decision{Permit: true}, nil

		default:
			return Decision{}, cferrors.Internal("unknown circuit breaker state", nil)
		}
	}
	return Decision{}, cferrors.Internal("circuit breaker allow exceeded CAS retry budget", nil)
}

// Record reports the outcome of a call (or probe) against dependency,
// updating counters and possibly transitioning state per spec §4.3.
func (r *Registry) Record(ctx context.Context, dependency string, outcome Outcome) error {
	policy := r.policyFor(dependency)
	if !policy.Enabled {
		return nil
	}

	key := keyPrefix + dependency
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		rec, version, err := r.get(ctx, key)
		if err != nil {
			if errors.Is(err, recordstore.ErrUnavailable) {
				return nil // fail-open: nothing to record against
			}
			return err
		}

		next := rec
		transitioned := false

		switch rec.State {
		case Closed, "":
			next.State = Closed
			if outcome == Success {
				next.ConsecutiveFailures = 0
			} else {
				next.ConsecutiveFailures++
				if next.ConsecutiveFailures >= policy.FailThreshold {
					next.State = Open
					next.OpenedAt = time.Now().UTC()
					next.ConsecutiveFailures = 0
					next.ConsecutiveSuccesses = 0
					transitioned = true
				}
			}

		case HalfOpen:
			if outcome == Success {
				next.ConsecutiveSuccesses++
				next.ProbeInFlightAt = time.Time{}
				if next.ConsecutiveSuccesses >= policy.SuccessThreshold {
					next.State = Closed
					next.ConsecutiveFailures = 0
					next.ConsecutiveSuccesses = 0
					transitioned = true
				}
			} else {
				next.State = Open
				next.OpenedAt = time.Now().UTC()
				next.ConsecutiveFailures = 0
				next.ConsecutiveSuccesses = 0
				next.ProbeInFlightAt = time.Time{}
				transitioned = true
			}

		case Open:
			// A stray result for a call admitted before the breaker tripped;
			// no state to update.
			return nil
		}

		if _, err := r.set(ctx, key, version, next); err != nil {
			if errors.Is(err, recordstore.ErrVersionMismatch) {
				continue
			}
			return err
		}
		if transitioned {
			r.metrics.BreakerTransitionsTotal.WithLabelValues(dependency, string(rec.State), string(next.State)).Inc()
			r.logger.LogCircuitTransition(ctx, dependency, string(rec.State), string(next.State))
		}
		return nil
	}
	return cferrors.Internal("circuit breaker record exceeded CAS retry budget", nil)
}

// get reads the breaker's current state, lazily creating a CLOSED record on
// first use. The returned version is always the store's version of the
// record (for a freshly-created record, the version PutIfAbsent returned),
// ready to pass to CompareAndSet.
func (r *Registry) get(ctx context.Context, key string) (stateRecord, int64, error) {
	rec, err := r.store.Get(ctx, key, recordstore.Strong)
	if errors.Is(err, recordstore.ErrNotFound) {
		fresh := stateRecord{State: Closed}
		payload, merr := json.Marshal(fresh)
		if merr != nil {
			return stateRecord{}, 0, cferrors.Internal("marshal circuit breaker record", merr)
		}
		created, perr := r.store.PutIfAbsent(ctx, key, payload, 0)
		if perr != nil {
			if errors.Is(perr, recordstore.ErrConflict) {
				return r.get(ctx, key) // another worker created it first
			}
			return stateRecord{}, 0, cferrors.Unavailable("circuit breaker lazy init", perr)
		}
		return fresh, created.Version, nil
	}
	if err != nil {
		return stateRecord{}, 0, cferrors.Unavailable("circuit breaker read", err)
	}

	var sr stateRecord
	if err := json.Unmarshal(rec.Value, &sr); err != nil {
		return stateRecord{}, 0, cferrors.Internal("unmarshal circuit breaker record", err)
	}
	return sr, rec.Version, nil
}

func (r *Registry) set(ctx context.Context, key string, expectedVersion int64, sr stateRecord) (int64, error) {
	payload, err := json.Marshal(sr)
	if err != nil {
		return 0, cferrors.Internal("marshal circuit breaker record", err)
	}
	rec, err := r.store.CompareAndSet(ctx, key, expectedVersion, payload, 0)
	if err != nil {
		if errors.Is(err, recordstore.ErrVersionMismatch) || errors.Is(err, recordstore.ErrNotFound) {
			return 0, recordstore.ErrVersionMismatch
		}
		return 0, cferrors.Unavailable("circuit breaker write", err)
	}
	return rec.Version, nil
}
