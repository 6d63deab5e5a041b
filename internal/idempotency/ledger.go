// Package idempotency implements the ledger that turns at-least-once
// invocation into effectively-exactly-once effects (spec §4.2).
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	cferrors "github.com/cloudflow/saga/infrastructure/errors"
	"github.com/cloudflow/saga/infrastructure/metrics"
	"github.com/cloudflow/saga/internal/recordstore"
)

// State is the lifecycle of one ledger record.
type State string

const (
	StateInProgress State = "IN_PROGRESS"
	StateDone       State = "DONE"
	StateFailed     State = "FAILED"
)

// record is the JSON envelope stored under the caller's key.
type record struct {
	State     State           `json:"state"`
	Owner     string          `json:"owner"`
	CreatedAt time.Time       `json:"created_at"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Ledger runs caller thunks under the at-most-once protocol of spec §4.2,
// keyed by a caller-chosen string and backed by a recordstore.Store.
type Ledger struct {
	store             recordstore.Store
	ttl               time.Duration
	inProgressTimeout time.Duration
	metrics           *metrics.Metrics
}

// New constructs a Ledger. ttl governs how long a DONE/FAILED record is
// remembered; inProgressTimeout bounds how long a record may sit IN_PROGRESS
// before a new caller is allowed to assume the original owner crashed and
// reclaim it (spec §4.2 step 3, Open Question (a)).
func New(store recordstore.Store, ttl, inProgressTimeout time.Duration) *Ledger {
	return &Ledger{store: store, ttl: ttl, inProgressTimeout: inProgressTimeout, metrics: metrics.Global()}
}

// keyPrefix returns the portion of an idempotency key before its first ":"
// (e.g. "saga" from "saga:order123:reserve"), used as a low-cardinality
// metric label instead of the full caller-chosen key.
func keyPrefix(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i]
	}
	return key
}

// Run executes fn at most once for the given key while a record for that key
// exists. Concurrent and later callers using the same key observe exactly one
// of: a CF_IN_PROGRESS_CONFLICT error while the first execution is still in
// flight, the stored result or stored failure once it has finished, or (after
// in_progress_timeout) a chance to reclaim ownership and run fn themselves.
func (l *Ledger) Run(ctx context.Context, key string, fn func(context.Context) (json.RawMessage, error)) (json.RawMessage, error) {
	owner := uuid.NewString()
	rec := record{State: StateInProgress, Owner: owner, CreatedAt: time.Now().UTC()}
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, cferrors.Internal("marshal idempotency record", err)
	}

	stored, err := l.store.PutIfAbsent(ctx, key, payload, l.ttl)
	switch {
	case err == nil:
		return l.execute(ctx, key, stored.Version, fn)
	case errors.Is(err, recordstore.ErrConflict):
		return l.resolveConflict(ctx, key, fn)
	default:
		return nil, cferrors.Unavailable("idempotency put_if_absent", err)
	}
}

// execute runs fn having just won ownership at the given version, then
// commits the outcome.
func (l *Ledger) execute(ctx context.Context, key string, version int64, fn func(context.Context) (json.RawMessage, error)) (json.RawMessage, error) {
	result, ferr := fn(ctx)
	if ferr == nil {
		done := record{State: StateDone, Result: result, CreatedAt: time.Now().UTC()}
		payload, err := json.Marshal(done)
		if err != nil {
			return nil, cferrors.Internal("marshal idempotency result", err)
		}
		if _, err := l.store.CompareAndSet(ctx, key, version, payload, l.ttl); err != nil {
			return nil, cferrors.Unavailable("idempotency commit done", err)
		}
		return result, nil
	}

	if cferrors.IsRetryable(ferr) {
		if err := l.store.Delete(ctx, key); err != nil {
			return nil, cferrors.Unavailable("idempotency delete on retryable failure", err)
		}
		return nil, ferr
	}

	failed := record{State: StateFailed, Error: ferr.Error(), CreatedAt: time.Now().UTC()}
	payload, merr := json.Marshal(failed)
	if merr != nil {
		return nil, cferrors.Internal("marshal idempotency failure", merr)
	}
	if _, err := l.store.CompareAndSet(ctx, key, version, payload, l.ttl); err != nil {
		return nil, cferrors.Unavailable("idempotency commit failed", err)
	}
	return nil, ferr
}

// IsStuck reports whether key's record is IN_PROGRESS and has sat past
// inProgressTimeout, for the janitor's maintenance sweep. The ledger itself
// already reclaims a stuck record reactively on the next Run call (spec
// §4.2 step 3); IsStuck only supports proactive operator alerting, so it
// never mutates the record.
func (l *Ledger) IsStuck(ctx context.Context, key string) (bool, error) {
	rec, err := l.store.Get(ctx, key, recordstore.Strong)
	if errors.Is(err, recordstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, cferrors.Unavailable("idempotency read for stuck check", err)
	}

	var r record
	if err := json.Unmarshal(rec.Value, &r); err != nil {
		return false, cferrors.Internal("unmarshal idempotency record", err)
	}
	return r.State == StateInProgress && time.Since(r.CreatedAt) >= l.inProgressTimeout, nil
}

// resolveConflict implements spec §4.2 step 3: a record already exists.
func (l *Ledger) resolveConflict(ctx context.Context, key string, fn func(context.Context) (json.RawMessage, error)) (json.RawMessage, error) {
	stored, err := l.store.Get(ctx, key, recordstore.Strong)
	if err != nil {
		return nil, cferrors.Unavailable("idempotency read existing record", err)
	}

	var rec record
	if err := json.Unmarshal(stored.Value, &rec); err != nil {
		return nil, cferrors.Internal("unmarshal idempotency record", err)
	}

	switch rec.State {
	case StateDone:
		return rec.Result, nil
	case StateFailed:
		return nil, cferrors.Internal(rec.Error, nil)
	case StateInProgress:
		if time.Since(rec.CreatedAt) < l.inProgressTimeout {
			l.metrics.IdempotencyConflictsTotal.WithLabelValues(keyPrefix(key)).Inc()
			return nil, cferrors.InProgressConflict(key, l.inProgressTimeout.String())
		}
		return l.reclaim(ctx, key, stored.Version, fn)
	default:
		return nil, cferrors.Internal("unknown idempotency record state", nil)
	}
}

// reclaim assumes the original owner crashed (its IN_PROGRESS record is
// older than in_progress_timeout) and attempts to take ownership via
// compare_and_set. Losing the race sends the caller back to step 3.
func (l *Ledger) reclaim(ctx context.Context, key string, expectedVersion int64, fn func(context.Context) (json.RawMessage, error)) (json.RawMessage, error) {
	reclaimed := record{State: StateInProgress, Owner: uuid.NewString(), CreatedAt: time.Now().UTC()}
	payload, err := json.Marshal(reclaimed)
	if err != nil {
		return nil, cferrors.Internal("marshal reclaimed idempotency record", err)
	}

	stored, err := l.store.CompareAndSet(ctx, key, expectedVersion, payload, l.ttl)
	if err != nil {
		if errors.Is(err, recordstore.ErrVersionMismatch) || errors.Is(err, recordstore.ErrNotFound) {
			return l.resolveConflict(ctx, key, fn)
		}
		return nil, cferrors.Unavailable("idempotency reclaim", err)
	}
	return l.execute(ctx, key, stored.Version, fn)
}
