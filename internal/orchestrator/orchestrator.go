// Package orchestrator implements the top-level SAGA coordinator of spec
// §4.6: it drives each order's forward steps (reserve, charge, confirm) and
// compensation sequence through the idempotency ledger, the circuit breaker,
// and the event log, so that any number of retries or crash-restarts realize
// each step's effect exactly once.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	cferrors "github.com/cloudflow/saga/infrastructure/errors"
	"github.com/cloudflow/saga/infrastructure/logging"
	"github.com/cloudflow/saga/infrastructure/metrics"
	"github.com/cloudflow/saga/infrastructure/resilience"
	"github.com/cloudflow/saga/internal/circuitbreaker"
	"github.com/cloudflow/saga/internal/eventlog"
	"github.com/cloudflow/saga/internal/idempotency"
	"github.com/cloudflow/saga/internal/inventory"
	"github.com/cloudflow/saga/internal/janitor"
	"github.com/cloudflow/saga/internal/notify"
	"github.com/cloudflow/saga/internal/order"
	"github.com/cloudflow/saga/internal/payment"
	"github.com/cloudflow/saga/internal/recordstore"
)

const paymentProviderDependency = "payment_provider"

const metaKeyPrefix = "order_meta:"

func metaKey(orderID string) string { return metaKeyPrefix + orderID }

// orderMeta is the immutable portion of an order, written once at intake
// (spec §3: customer_id/items/total/correlation_id never change after
// creation). The mutable status/version live in the event log's summary.
type orderMeta struct {
	OrderID         string       `json:"order_id"`
	CustomerID      string       `json:"customer_id"`
	Items           []order.Item `json:"items"`
	TotalMinorUnits int64        `json:"total_minor_units"`
	CorrelationID   string       `json:"correlation_id"`
	CreatedAt       time.Time    `json:"created_at"`
}

type reserveResultPayload struct {
	ReservationIDs []string `json:"reservation_ids"`
}

type chargeResultPayload struct {
	ProviderChargeID string `json:"provider_charge_id"`
}

// SubmitRequest is the ingress command of spec §6.
type SubmitRequest struct {
	OrderID       string
	CustomerID    string
	CorrelationID string
	Items         []order.Item
}

// Accepted is the ingress response for a validated submission.
type Accepted struct {
	OrderID string
	Status  order.Status
}

// OrderView is the GetOrder query response of spec §6.
type OrderView struct {
	OrderID         string
	Status          order.Status
	CustomerID      string
	TotalMinorUnits int64
	CorrelationID   string
	Events          []EventView
}

// EventView is one entry of OrderView.Events.
type EventView struct {
	Seq        int64
	Type       string
	OccurredAt time.Time
}

// OnCompensationStuck is invoked after every failed compensation-release
// retry attempt (spec §9 design note (b): operators should be alerted).
type OnCompensationStuck func(orderID, reservationID string, err error)

// Orchestrator is the SAGA coordinator. One instance is shared by every
// worker; all cross-worker coordination happens through the record store
// components it wraps (spec §5: "no in-process locks, no leader election").
type Orchestrator struct {
	store     recordstore.Store
	ledger    *idempotency.Ledger
	breaker   *circuitbreaker.Registry
	inventory *inventory.Engine
	eventlog  *eventlog.Log
	payment   payment.Provider
	notify    notify.Queue
	logger    *logging.Logger
	metrics   *metrics.Metrics
	policies  map[string]resilience.RetryConfig
	pool      *workerPool
	janitor   *janitor.Janitor

	onCompensationStuck OnCompensationStuck
}

// Config bundles the Orchestrator's dependencies and tunables.
type Config struct {
	Store     recordstore.Store
	Ledger    *idempotency.Ledger
	Breaker   *circuitbreaker.Registry
	Inventory *inventory.Engine
	EventLog  *eventlog.Log
	Payment   payment.Provider
	Notify    notify.Queue
	Logger    *logging.Logger
	Metrics   *metrics.Metrics
	Policies  map[string]resilience.RetryConfig

	// Janitor, if set, is notified of every reservation and idempotency key
	// this Orchestrator creates so its TTL sweep has candidates to check
	// (spec §9 design note (b)). Optional — a nil Janitor just means no
	// proactive maintenance sweep runs.
	Janitor *janitor.Janitor

	// PoolSize is the number of worker goroutines driving SAGA execution
	// concurrently (spec §5: "parallel worker pool"). Defaults to 8.
	PoolSize int

	OnCompensationStuck OnCompensationStuck
}

// New constructs an Orchestrator and starts its worker pool. Call Close to
// stop the pool.
func New(cfg Config) *Orchestrator {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Global()
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 8
	}

	o := &Orchestrator{
		store:               cfg.Store,
		ledger:              cfg.Ledger,
		breaker:             cfg.Breaker,
		inventory:           cfg.Inventory,
		eventlog:            cfg.EventLog,
		payment:             cfg.Payment,
		notify:              cfg.Notify,
		logger:              cfg.Logger,
		metrics:             cfg.Metrics,
		policies:            cfg.Policies,
		janitor:             cfg.Janitor,
		onCompensationStuck: cfg.OnCompensationStuck,
	}
	o.pool = newWorkerPool(cfg.PoolSize, o.run)
	o.pool.Start()
	return o
}

// Close stops the worker pool, waiting for in-flight SAGA steps to finish
// their current attempt.
func (o *Orchestrator) Close() {
	o.pool.Stop()
}

func (o *Orchestrator) log() *logging.Logger {
	if o.logger != nil {
		return o.logger
	}
	return logging.Default()
}

// trackSagaKey registers key with the janitor, if one is configured, so a
// worker crash mid-step leaves behind a candidate for the TTL sweep's
// stuck-key alert rather than a silent IN_PROGRESS record nobody watches.
func (o *Orchestrator) trackSagaKey(key string) {
	if o.janitor != nil {
		o.janitor.TrackIdempotencyKey(key, time.Now())
	}
}

func (o *Orchestrator) policy(step string) resilience.RetryConfig {
	if cfg, ok := o.policies[step]; ok {
		return cfg
	}
	return resilience.DefaultRetryConfig()
}

// Submit validates req, durably records the order as PENDING, and schedules
// its SAGA for execution on the worker pool. It always returns before the
// SAGA completes (spec §7: "submission is always accepted... once the
// initial PENDING record is durably written").
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (Accepted, error) {
	if err := validateSubmit(req); err != nil {
		return Accepted{}, err
	}

	orderID := req.OrderID
	if orderID == "" {
		orderID = order.NewOrderID()
	}
	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	meta := orderMeta{
		OrderID:         orderID,
		CustomerID:      req.CustomerID,
		Items:           req.Items,
		TotalMinorUnits: order.Total(req.Items),
		CorrelationID:   correlationID,
		CreatedAt:       time.Now().UTC(),
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		return Accepted{}, cferrors.Internal("marshal order meta", err)
	}

	_, err = o.store.PutIfAbsent(ctx, metaKey(orderID), payload, 0)
	switch {
	case err == nil:
		if _, aerr := o.eventlog.Append(ctx, orderID, string(order.EventOrderCreated), nil, string(order.Pending)); aerr != nil {
			return Accepted{}, aerr
		}
		o.pool.Submit(orderID)
		return Accepted{OrderID: orderID, Status: order.Pending}, nil

	case errors.Is(err, recordstore.ErrConflict):
		summary, serr := o.eventlog.Current(ctx, orderID, recordstore.Eventual)
		if serr != nil {
			return Accepted{}, serr
		}
		return Accepted{OrderID: orderID, Status: order.Status(summary.Status)}, nil

	default:
		return Accepted{}, cferrors.Unavailable("submit order", err)
	}
}

// GetOrder answers the query interface of spec §6. consistency selects a
// strong or eventual read of the status summary (spec §4.5, SPEC_FULL.md
// supplement); the event history itself is always read strong.
func (o *Orchestrator) GetOrder(ctx context.Context, orderID string, consistency recordstore.Consistency) (OrderView, error) {
	meta, err := o.readMeta(ctx, orderID)
	if err != nil {
		return OrderView{}, err
	}
	summary, err := o.eventlog.Current(ctx, orderID, consistency)
	if err != nil {
		return OrderView{}, err
	}
	history, err := o.eventlog.History(ctx, orderID)
	if err != nil {
		return OrderView{}, err
	}

	events := make([]EventView, 0, len(history))
	for _, e := range history {
		events = append(events, EventView{Seq: e.Seq, Type: e.Type, OccurredAt: e.OccurredAt})
	}

	reservationIDs, err := reservationIDsFromHistory(history)
	if err != nil {
		return OrderView{}, err
	}
	agg := order.Order{
		OrderID:          orderID,
		CustomerID:       meta.CustomerID,
		Items:            meta.Items,
		TotalMinorUnits:  meta.TotalMinorUnits,
		Status:           order.Status(summary.Status),
		CorrelationID:    meta.CorrelationID,
		CreatedAt:        meta.CreatedAt,
		Version:          summary.Version,
		ReservationIDs:   reservationIDs,
		ProviderChargeID: providerChargeIDFromHistory(history),
	}

	return OrderView{
		OrderID:         agg.OrderID,
		Status:          agg.Status,
		CustomerID:      agg.CustomerID,
		TotalMinorUnits: agg.TotalMinorUnits,
		CorrelationID:   agg.CorrelationID,
		Events:          events,
	}, nil
}

func (o *Orchestrator) readMeta(ctx context.Context, orderID string) (orderMeta, error) {
	rec, err := o.store.Get(ctx, metaKey(orderID), recordstore.Strong)
	if err != nil {
		if errors.Is(err, recordstore.ErrNotFound) {
			return orderMeta{}, cferrors.NotFound("order", orderID)
		}
		return orderMeta{}, cferrors.Unavailable("read order meta", err)
	}
	var meta orderMeta
	if err := json.Unmarshal(rec.Value, &meta); err != nil {
		return orderMeta{}, cferrors.Internal("unmarshal order meta", err)
	}
	return meta, nil
}

// run is the worker-pool job body (spec §4.6/§5): it re-derives the order's
// current status on every iteration and advances it one step, so the same
// function drives a fresh submission and a crash-resumed one identically
// (spec §8 S6: a replacement worker resumes by replaying the event log).
func (o *Orchestrator) run(orderID string) {
	ctx := context.Background()

	meta, err := o.readMeta(ctx, orderID)
	if err != nil {
		o.log().WithContext(ctx).WithError(err).Error("orchestrator: cannot load order meta")
		return
	}
	ctx = logging.WithOrderID(ctx, orderID)
	ctx = logging.WithCorrelationID(ctx, meta.CorrelationID)

	for i := 0; i < 64; i++ { // hard ceiling: a correct SAGA never revisits a non-terminal status this many times
		summary, err := o.eventlog.Current(ctx, orderID, recordstore.Strong)
		if err != nil {
			o.log().WithContext(ctx).WithError(err).Error("orchestrator: cannot load order summary")
			return
		}

		status := order.Status(summary.Status)
		if status.Terminal() {
			return
		}

		switch status {
		case order.Pending, "":
			o.stepReserve(ctx, orderID, meta)
		case order.StockReserved:
			o.stepCharge(ctx, orderID, meta)
		case order.PaymentCharged:
			o.stepConfirm(ctx, orderID, meta)
		case order.Compensating:
			o.compensate(ctx, orderID, meta)
		default:
			o.log().WithContext(ctx).WithFields(map[string]interface{}{"status": string(status)}).
				Error("orchestrator: unknown order status")
			return
		}
	}
}

// stepReserve implements spec §4.6 step (1): reserve inventory for every
// line item, wrapped in the idempotency ledger so a retried or
// crash-resumed step does not double-reserve.
func (o *Orchestrator) stepReserve(ctx context.Context, orderID string, meta orderMeta) {
	sagaKey := "saga:" + orderID + ":reserve"
	o.trackSagaKey(sagaKey)
	start := time.Now()

	_, err := o.ledger.Run(ctx, sagaKey, func(ctx context.Context) (json.RawMessage, error) {
		policy := o.policy("reserve")
		var reservationIDs []string
		rerr := resilience.RetryWithLog(ctx, o.logger, orderID, "reserve", policy, func(ctx context.Context) error {
			ids, ierr := o.reserveItems(ctx, orderID, meta.Items)
			reservationIDs = ids
			return ierr
		})
		if rerr != nil {
			return nil, rerr
		}

		payload, merr := json.Marshal(reserveResultPayload{ReservationIDs: reservationIDs})
		if merr != nil {
			return nil, cferrors.Internal("marshal reserve result", merr)
		}
		if _, aerr := o.eventlog.Append(ctx, orderID, string(order.EventStockReserved), payload, string(order.StockReserved)); aerr != nil {
			return nil, aerr
		}
		return payload, nil
	})

	o.metrics.SagaStepDuration.WithLabelValues("reserve").Observe(time.Since(start).Seconds())
	if err != nil {
		o.metrics.SagaStepsTotal.WithLabelValues("reserve", "failure").Inc()
		if isInProgressConflict(err) {
			return // another worker already owns this step; let it finish
		}
		// Reserve is step 1: nothing was held for any item that failed
		// (reserveItems rolls back whatever it partially reserved), so
		// there is nothing to compensate — go straight to terminal FAILED.
		o.failOrder(ctx, orderID, err)
		return
	}
	o.metrics.SagaStepsTotal.WithLabelValues("reserve", "success").Inc()
}

// reserveItems reserves every line item in order, rolling back any
// already-held reservations from this same attempt if a later item fails
// (spec §4.4 extended to multi-item orders: partial holds are never left
// behind for an order that will not reach COMPENSATING).
func (o *Orchestrator) reserveItems(ctx context.Context, orderID string, items []order.Item) ([]string, error) {
	held := make([]string, 0, len(items))
	for _, item := range items {
		sagaStepID := orderID + ":" + item.ProductID
		res, err := o.inventory.Reserve(ctx, orderID, item.ProductID, item.Quantity, sagaStepID)
		if err != nil {
			for _, id := range held {
				if rerr := o.releaseWithRetry(ctx, orderID, id); rerr != nil {
					o.log().WithContext(ctx).WithError(rerr).Error("orchestrator: rollback release failed")
				}
			}
			return nil, err
		}
		held = append(held, res.ReservationID)
		if o.janitor != nil {
			o.janitor.TrackReservation(res.ReservationID, orderID, res.CreatedAt)
		}
	}
	return held, nil
}

// stepCharge implements spec §4.6 step (2): consult the circuit breaker,
// call the payment provider, and record the outcome. A CIRCUIT_OPEN
// decision surfaces immediately without entering the retry loop (spec
// §4.6 per-step table).
func (o *Orchestrator) stepCharge(ctx context.Context, orderID string, meta orderMeta) {
	sagaKey := "saga:" + orderID + ":charge"
	o.trackSagaKey(sagaKey)
	start := time.Now()

	_, err := o.ledger.Run(ctx, sagaKey, func(ctx context.Context) (json.RawMessage, error) {
		decision, aerr := o.breaker.Allow(ctx, paymentProviderDependency)
		if aerr != nil {
			return nil, aerr
		}
		if !decision.Permit {
			return nil, cferrors.CircuitOpen(paymentProviderDependency, decision.RetryAfter.Seconds())
		}

		policy := o.policy("charge")
		var result payment.ChargeResult
		rerr := resilience.RetryWithLog(ctx, o.logger, orderID, "charge", policy, func(ctx context.Context) error {
			var ferr error
			result, ferr = o.payment.Charge(ctx, payment.ChargeRequest{
				IdempotencyKey:   "charge:" + orderID,
				AmountMinorUnits: meta.TotalMinorUnits,
				Currency:         "USD",
				Metadata: map[string]string{
					"order_id":       orderID,
					"correlation_id": meta.CorrelationID,
				},
			})
			outcome := circuitbreaker.Success
			if ferr != nil {
				outcome = circuitbreaker.Failure
			}
			if berr := o.breaker.Record(ctx, paymentProviderDependency, outcome); berr != nil {
				o.log().WithContext(ctx).WithError(berr).Warn("orchestrator: circuit breaker record failed")
			}
			return ferr
		})
		if rerr != nil {
			return nil, rerr
		}

		payload, merr := json.Marshal(chargeResultPayload{ProviderChargeID: result.ProviderChargeID})
		if merr != nil {
			return nil, cferrors.Internal("marshal charge result", merr)
		}
		if _, aerr := o.eventlog.Append(ctx, orderID, string(order.EventPaymentCharged), payload, string(order.PaymentCharged)); aerr != nil {
			return nil, aerr
		}
		return payload, nil
	})

	o.metrics.SagaStepDuration.WithLabelValues("charge").Observe(time.Since(start).Seconds())
	if err != nil {
		o.metrics.SagaStepsTotal.WithLabelValues("charge", "failure").Inc()
		if isInProgressConflict(err) {
			return
		}
		o.beginCompensation(ctx, orderID, order.EventPaymentFailed, err)
		return
	}
	o.metrics.SagaStepsTotal.WithLabelValues("charge", "success").Inc()
}

// stepConfirm implements spec §4.6 step (3): the terminal success
// transition, reservation consumption, and notification emission are one
// idempotency-ledger-protected unit (spec §4.6: "notification emission...
// is part of the terminal transition").
func (o *Orchestrator) stepConfirm(ctx context.Context, orderID string, meta orderMeta) {
	sagaKey := "saga:" + orderID + ":confirm"
	o.trackSagaKey(sagaKey)
	start := time.Now()

	_, err := o.ledger.Run(ctx, sagaKey, func(ctx context.Context) (json.RawMessage, error) {
		policy := o.policy("confirm")
		rerr := resilience.RetryWithLog(ctx, o.logger, orderID, "confirm", policy, func(ctx context.Context) error {
			ids, rerr := o.latestReservationIDs(ctx, orderID)
			if rerr != nil {
				return rerr
			}
			for _, id := range ids {
				if cerr := o.inventory.Consume(ctx, id); cerr != nil {
					return cerr
				}
			}
			if perr := o.notify.Publish(ctx, notify.Message{
				Type:          notify.OrderConfirmed,
				OrderID:       orderID,
				CorrelationID: meta.CorrelationID,
				CustomerID:    meta.CustomerID,
			}); perr != nil {
				return perr
			}
			_, aerr := o.eventlog.Append(ctx, orderID, string(order.EventOrderConfirmed), nil, string(order.Confirmed))
			return aerr
		})
		if rerr != nil {
			return nil, rerr
		}
		return json.RawMessage(`{}`), nil
	})

	o.metrics.SagaStepDuration.WithLabelValues("confirm").Observe(time.Since(start).Seconds())
	if err != nil {
		o.metrics.SagaStepsTotal.WithLabelValues("confirm", "failure").Inc()
		if isInProgressConflict(err) {
			return
		}
		o.beginCompensation(ctx, orderID, order.EventConfirmFailed, err)
		return
	}
	o.metrics.SagaStepsTotal.WithLabelValues("confirm", "success").Inc()
}

// beginCompensation records the reason for entering COMPENSATING (spec
// §4.6: "triggered on any non-retryable failure of step ≥ 2, or on
// exhaustion of the retry budget"). The next run() iteration performs the
// actual release work.
func (o *Orchestrator) beginCompensation(ctx context.Context, orderID string, reason order.EventType, cause error) {
	o.metrics.SagaCompensations.WithLabelValues(string(reason)).Inc()
	payload, _ := json.Marshal(map[string]string{"reason": cause.Error()})
	if _, err := o.eventlog.Append(ctx, orderID, string(reason), payload, string(order.Compensating)); err != nil {
		o.log().WithContext(ctx).WithError(err).Error("orchestrator: failed to record compensation trigger")
	}
}

// compensate implements spec §4.6's compensation sequence: release every
// reservation held on this order's path (unlimited retries — "must
// succeed"), then mark COMPENSATED and notify.
func (o *Orchestrator) compensate(ctx context.Context, orderID string, meta orderMeta) {
	ids, err := o.latestReservationIDs(ctx, orderID)
	if err != nil {
		o.log().WithContext(ctx).WithError(err).Error("orchestrator: cannot determine reservations to release")
		return
	}

	var releaseErrs *multierror.Error
	for _, id := range ids {
		if rerr := o.releaseWithRetry(ctx, orderID, id); rerr != nil {
			releaseErrs = multierror.Append(releaseErrs, rerr)
		}
	}
	if releaseErrs.ErrorOrNil() != nil {
		// releaseWithRetry only returns when ctx is done; the reservation
		// TTL is the backstop for a release that can never be confirmed
		// (spec §9 design note (b)).
		o.log().WithContext(ctx).WithError(releaseErrs).Error("orchestrator: compensation release aborted by context cancellation")
		return
	}

	if _, err := o.eventlog.Append(ctx, orderID, string(order.EventStockReleased), nil, string(order.Compensating)); err != nil {
		o.log().WithContext(ctx).WithError(err).Error("orchestrator: failed to record stock release")
		return
	}
	if _, err := o.eventlog.Append(ctx, orderID, string(order.EventOrderCompensated), nil, string(order.Compensated)); err != nil {
		o.log().WithContext(ctx).WithError(err).Error("orchestrator: failed to record terminal COMPENSATED")
		return
	}
	if err := o.notify.Publish(ctx, notify.Message{
		Type:          notify.OrderCompensated,
		OrderID:       orderID,
		CorrelationID: meta.CorrelationID,
		CustomerID:    meta.CustomerID,
	}); err != nil {
		o.log().WithContext(ctx).WithError(err).Warn("orchestrator: compensation notification publish failed")
	}
}

// releaseWithRetry releases one reservation with unbounded retry (spec
// §4.6: "must succeed; the guarantee... depends on this"), reporting every
// failed attempt through OnCompensationStuck.
func (o *Orchestrator) releaseWithRetry(ctx context.Context, orderID, reservationID string) error {
	policy := o.policy("release")
	return resilience.RetryForever(ctx, policy, func(ctx context.Context) error {
		return o.inventory.Release(ctx, reservationID)
	}, func(attempt int, err error) {
		o.log().WithContext(ctx).WithFields(map[string]interface{}{
			"reservation_id": reservationID,
			"attempt":        attempt,
		}).Warn("orchestrator: compensation release attempt failed")
		if o.onCompensationStuck != nil {
			o.onCompensationStuck(orderID, reservationID, err)
		}
	})
}

// latestReservationIDs recovers the reservation ids held for orderID from
// the STOCK_RESERVED event's payload, so a crash-resumed compensation or
// confirm step does not need any state beyond the event log.
func (o *Orchestrator) latestReservationIDs(ctx context.Context, orderID string) ([]string, error) {
	history, err := o.eventlog.History(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return reservationIDsFromHistory(history)
}

// reservationIDsFromHistory recovers the reservation ids held for an order
// from its most recent STOCK_RESERVED event, so both the confirm/compensate
// path and the read-only GetOrder aggregate (order.Order) derive them from
// the same source of truth.
func reservationIDsFromHistory(history []eventlog.Event) ([]string, error) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Type != string(order.EventStockReserved) {
			continue
		}
		var payload reserveResultPayload
		if err := json.Unmarshal(history[i].Payload, &payload); err != nil {
			return nil, cferrors.Internal("unmarshal stock-reserved payload", err)
		}
		return payload.ReservationIDs, nil
	}
	return nil, nil
}

// providerChargeIDFromHistory recovers the payment provider's charge id from
// an order's PAYMENT_CHARGED event, if one was reached.
func providerChargeIDFromHistory(history []eventlog.Event) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Type != string(order.EventPaymentCharged) {
			continue
		}
		var payload chargeResultPayload
		if err := json.Unmarshal(history[i].Payload, &payload); err == nil {
			return payload.ProviderChargeID
		}
		return ""
	}
	return ""
}

// failOrder records the terminal FAILED transition for a step-1 (reserve)
// failure, which needs no compensation (spec §4.6, §7).
func (o *Orchestrator) failOrder(ctx context.Context, orderID string, cause error) {
	payload, _ := json.Marshal(map[string]string{"reason": cause.Error()})
	if _, err := o.eventlog.Append(ctx, orderID, string(order.EventOrderFailed), payload, string(order.Failed)); err != nil {
		o.log().WithContext(ctx).WithError(err).Error("orchestrator: failed to record terminal FAILED")
	}
}

// isInProgressConflict reports whether err is the idempotency ledger
// declining to run a step because another worker already owns it (spec
// §4.2 step 3). Such a result neither fails nor compensates the order; run()
// re-reads the order's status and tries the step again on its next
// iteration, within its iteration ceiling.
func isInProgressConflict(err error) bool {
	return cferrors.CodeOf(err) == cferrors.ErrCodeInProgressConflict
}

func validateSubmit(req SubmitRequest) error {
	if req.CustomerID == "" {
		return cferrors.Validation("customer_id", "must not be empty")
	}
	if len(req.Items) == 0 {
		return cferrors.Validation("items", "must contain at least one item")
	}
	for _, item := range req.Items {
		if item.ProductID == "" {
			return cferrors.Validation("items[].product_id", "must not be empty")
		}
		if item.Quantity < 1 {
			return cferrors.Validation("items[].quantity", "must be >= 1")
		}
		if item.UnitPriceMinorUnits < 1 {
			return cferrors.Validation("items[].unit_price_minor_units", "must be >= 1")
		}
	}
	return nil
}
