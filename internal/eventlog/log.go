// Package eventlog implements the append-only per-order event history and
// its denormalized summary record, written in lockstep via the two-write
// protocol of spec §4.5.
package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	cferrors "github.com/cloudflow/saga/infrastructure/errors"
	"github.com/cloudflow/saga/internal/recordstore"
)

const (
	eventKeyPrefix   = "event:"
	summaryKeyPrefix = "summary:"
)

const maxAppendAttempts = 10

// Event is one immutable, append-only entry in an order's timeline.
type Event struct {
	OrderID    string          `json:"order_id"`
	Seq        int64           `json:"seq"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Summary is the denormalized current-state cache kept in lockstep with the
// event sequence (spec §4.5). Status is the caller's domain status string
// (e.g. an order's lifecycle state); the event log treats it opaquely.
type Summary struct {
	OrderID string `json:"order_id"`
	Version int64  `json:"version"`
	Status  string `json:"status"`
}

// Log is the event log for a single record-store-backed domain. One Log
// instance is shared by every SAGA worker.
type Log struct {
	store recordstore.Store
}

// New constructs a Log.
func New(store recordstore.Store) *Log {
	return &Log{store: store}
}

func eventKey(orderID string, seq int64) string {
	return eventKeyPrefix + orderID + ":" + strconv.FormatInt(seq, 10)
}

func summaryKey(orderID string) string {
	return summaryKeyPrefix + orderID
}

// Append writes the next event in orderID's sequence and advances the
// summary's status in the same logical step (spec §4.5 steps 1-2). The
// returned Event always reflects what was durably appended, even when this
// caller lost the race to update the summary (another writer's concurrent
// transition is observationally equivalent — the append still happened).
func (l *Log) Append(ctx context.Context, orderID, eventType string, payload json.RawMessage, newStatus string) (Event, error) {
	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		summary, version, err := l.readSummary(ctx, orderID)
		if err != nil {
			return Event{}, err
		}

		seq := summary.Version + 1
		event := Event{
			OrderID:    orderID,
			Seq:        seq,
			Type:       eventType,
			OccurredAt: time.Now().UTC(),
			Payload:    payload,
		}
		eventPayload, err := json.Marshal(event)
		if err != nil {
			return Event{}, cferrors.Internal("marshal event", err)
		}

		if _, err := l.store.PutIfAbsent(ctx, eventKey(orderID, seq), eventPayload, 0); err != nil {
			if errors.Is(err, recordstore.ErrConflict) {
				// Another writer already appended at this seq; recompute
				// against the latest summary.
				continue
			}
			return Event{}, cferrors.Unavailable("append event", err)
		}

		next := Summary{OrderID: orderID, Version: seq, Status: newStatus}
		nextPayload, err := json.Marshal(next)
		if err != nil {
			return Event{}, cferrors.Internal("marshal summary", err)
		}
		if _, err := l.store.CompareAndSet(ctx, summaryKey(orderID), version, nextPayload, 0); err != nil {
			if errors.Is(err, recordstore.ErrVersionMismatch) {
				// Lost the race on the summary write; the append itself is
				// durable and correct, so this write is informational only.
				return event, nil
			}
			return Event{}, cferrors.Unavailable("update summary", err)
		}
		return event, nil
	}
	return Event{}, cferrors.Internal("event append exceeded retry budget", nil)
}

// History returns the complete event sequence for orderID in seq order
// (always a strong read, per spec §4.5).
func (l *Log) History(ctx context.Context, orderID string) ([]Event, error) {
	var events []Event
	for seq := int64(1); ; seq++ {
		rec, err := l.store.Get(ctx, eventKey(orderID, seq), recordstore.Strong)
		if errors.Is(err, recordstore.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, cferrors.Unavailable("read event history", err)
		}
		var event Event
		if err := json.Unmarshal(rec.Value, &event); err != nil {
			return nil, cferrors.Internal("unmarshal event", err)
		}
		events = append(events, event)
	}
	if len(events) == 0 {
		return nil, cferrors.NotFound("order", orderID)
	}
	return events, nil
}

// Current returns orderID's summary. consistency selects a strong or
// eventual read (spec §4.5: "eventual read by default, strong on demand").
func (l *Log) Current(ctx context.Context, orderID string, consistency recordstore.Consistency) (Summary, error) {
	rec, err := l.store.Get(ctx, summaryKey(orderID), consistency)
	if err != nil {
		if errors.Is(err, recordstore.ErrNotFound) {
			return Summary{}, cferrors.NotFound("order", orderID)
		}
		return Summary{}, cferrors.Unavailable("read summary", err)
	}
	var summary Summary
	if err := json.Unmarshal(rec.Value, &summary); err != nil {
		return Summary{}, cferrors.Internal("unmarshal summary", err)
	}
	return summary, nil
}

func (l *Log) readSummary(ctx context.Context, orderID string) (Summary, int64, error) {
	rec, err := l.store.Get(ctx, summaryKey(orderID), recordstore.Strong)
	if errors.Is(err, recordstore.ErrNotFound) {
		fresh := Summary{OrderID: orderID, Version: 0, Status: ""}
		payload, merr := json.Marshal(fresh)
		if merr != nil {
			return Summary{}, 0, cferrors.Internal("marshal fresh summary", merr)
		}
		created, perr := l.store.PutIfAbsent(ctx, summaryKey(orderID), payload, 0)
		if perr != nil {
			if errors.Is(perr, recordstore.ErrConflict) {
				return l.readSummary(ctx, orderID) // another writer created it first
			}
			return Summary{}, 0, cferrors.Unavailable("lazily create summary", perr)
		}
		return fresh, created.Version, nil
	}
	if err != nil {
		return Summary{}, 0, cferrors.Unavailable("read summary", err)
	}

	var summary Summary
	if err := json.Unmarshal(rec.Value, &summary); err != nil {
		return Summary{}, 0, cferrors.Internal("unmarshal summary", err)
	}
	return summary, rec.Version, nil
}
