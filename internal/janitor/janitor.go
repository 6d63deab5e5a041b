// Package janitor runs the scheduled maintenance sweep of SPEC_FULL.md's
// domain stack: it is the TTL backstop behind compensation (spec §4.6 design
// note (b)) that reclaims a HELD reservation whose owning SAGA crashed
// before ever reaching COMPENSATING, and it surfaces idempotency records
// stuck past their in_progress_timeout for operator alerting.
//
// The record store has no key-enumeration primitive (spec §4.1: "versioned
// key/value store", nothing more), so the janitor cannot discover expired
// records by scanning the backing store. Instead it is fed candidate keys
// by the components that create them — Track* calls made right alongside
// inventory.Engine.Reserve and idempotency.Ledger.Run — and its sweep
// re-checks each tracked candidate's live state before acting.
package janitor

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cloudflow/saga/infrastructure/logging"
	"github.com/cloudflow/saga/internal/idempotency"
	"github.com/cloudflow/saga/internal/inventory"
)

type reservationCandidate struct {
	orderID   string
	createdAt time.Time
}

type idempotencyCandidate struct {
	createdAt time.Time
}

// OnStuckIdempotencyKey is invoked for every tracked idempotency key found
// IN_PROGRESS past its timeout (spec §9 design note (b) extended to the
// ledger side of compensation).
type OnStuckIdempotencyKey func(key string, age time.Duration)

// Janitor periodically sweeps tracked reservations and idempotency keys.
type Janitor struct {
	inventory      *inventory.Engine
	ledger         *idempotency.Ledger
	logger         *logging.Logger
	reservationTTL time.Duration
	interval       time.Duration
	onStuckKey     OnStuckIdempotencyKey

	mu            sync.Mutex
	reservations  map[string]reservationCandidate
	idempotencies map[string]idempotencyCandidate

	cron *cron.Cron
}

// Config bundles the Janitor's dependencies and tunables.
type Config struct {
	Inventory             *inventory.Engine
	Ledger                *idempotency.Ledger
	Logger                *logging.Logger
	ReservationTTL        time.Duration
	Interval              time.Duration
	OnStuckIdempotencyKey OnStuckIdempotencyKey
}

// New constructs a Janitor. Call Start to begin the cron-scheduled sweep.
func New(cfg Config) *Janitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &Janitor{
		inventory:      cfg.Inventory,
		ledger:         cfg.Ledger,
		logger:         cfg.Logger,
		reservationTTL: cfg.ReservationTTL,
		interval:       cfg.Interval,
		onStuckKey:     cfg.OnStuckIdempotencyKey,
		reservations:   make(map[string]reservationCandidate),
		idempotencies:  make(map[string]idempotencyCandidate),
		cron:           cron.New(),
	}
}

// TrackReservation registers reservationID as a sweep candidate. Call this
// right after a successful inventory.Engine.Reserve.
func (j *Janitor) TrackReservation(reservationID, orderID string, createdAt time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.reservations[reservationID] = reservationCandidate{orderID: orderID, createdAt: createdAt}
}

// TrackIdempotencyKey registers key as a sweep candidate. Call this right
// before an idempotency.Ledger.Run invocation for that key.
func (j *Janitor) TrackIdempotencyKey(key string, createdAt time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.idempotencies[key] = idempotencyCandidate{createdAt: createdAt}
}

// Start schedules the sweep on cfg.Interval and begins running it.
func (j *Janitor) Start() error {
	spec := "@every " + j.effectiveInterval().String()
	_, err := j.cron.AddFunc(spec, j.sweep)
	if err != nil {
		return err
	}
	j.cron.Start()
	return nil
}

// Stop cancels the schedule and waits for any in-flight sweep to finish.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}

// SweepOnce runs one sweep pass synchronously, for tests and for an
// operator-triggered off-cycle pass.
func (j *Janitor) SweepOnce() {
	j.sweep()
}

func (j *Janitor) effectiveInterval() time.Duration {
	return j.interval
}

func (j *Janitor) sweep() {
	j.sweepReservations()
	j.sweepIdempotencyKeys()
}

func (j *Janitor) sweepReservations() {
	ctx := context.Background()
	now := time.Now()

	j.mu.Lock()
	candidates := make(map[string]reservationCandidate, len(j.reservations))
	for id, c := range j.reservations {
		candidates[id] = c
	}
	j.mu.Unlock()

	for reservationID, candidate := range candidates {
		if now.Sub(candidate.createdAt) < j.reservationTTL {
			continue
		}

		res, err := j.inventory.GetReservation(ctx, reservationID)
		if err != nil {
			j.log().WithContext(ctx).WithError(err).Warn("janitor: cannot read tracked reservation")
			j.untrackReservation(reservationID)
			continue
		}

		if res.State != inventory.Held {
			j.untrackReservation(reservationID)
			continue
		}

		if err := j.inventory.Release(ctx, reservationID); err != nil {
			j.log().WithContext(ctx).WithError(err).Error("janitor: TTL release failed")
			continue
		}
		j.log().WithContext(ctx).WithFields(map[string]interface{}{
			"reservation_id": reservationID,
			"order_id":       candidate.orderID,
		}).Warn("janitor: released expired reservation")
		j.untrackReservation(reservationID)
	}
}

func (j *Janitor) sweepIdempotencyKeys() {
	ctx := context.Background()

	j.mu.Lock()
	candidates := make(map[string]idempotencyCandidate, len(j.idempotencies))
	for key, c := range j.idempotencies {
		candidates[key] = c
	}
	j.mu.Unlock()

	for key, candidate := range candidates {
		stuck, err := j.ledger.IsStuck(ctx, key)
		if err != nil {
			j.log().WithContext(ctx).WithError(err).Warn("janitor: cannot check idempotency key")
			continue
		}
		if !stuck {
			j.untrackIdempotencyKey(key)
			continue
		}
		age := time.Since(candidate.createdAt)
		j.log().WithContext(ctx).WithFields(map[string]interface{}{
			"key": key,
			"age": age.String(),
		}).Warn("janitor: idempotency key stuck in progress")
		if j.onStuckKey != nil {
			j.onStuckKey(key, age)
		}
	}
}

func (j *Janitor) untrackReservation(reservationID string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.reservations, reservationID)
}

func (j *Janitor) untrackIdempotencyKey(key string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.idempotencies, key)
}

func (j *Janitor) log() *logging.Logger {
	if j.logger != nil {
		return j.logger
	}
	return logging.Default()
}
