// Package order holds the data model of spec §3: the Order aggregate, its
// line items, and the event/status vocabulary the orchestrator and event
// log operate on.
package order

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Status is one of the order lifecycle states of spec §4.6.
type Status string

const (
	Pending        Status = "PENDING"
	StockReserved  Status = "STOCK_RESERVED"
	PaymentCharged Status = "PAYMENT_CHARGED"
	Confirmed      Status = "CONFIRMED"
	Compensating   Status = "COMPENSATING"
	Compensated    Status = "COMPENSATED"
	Failed         Status = "FAILED"
)

// Terminal reports whether status is one of the SAGA's terminal states.
func (s Status) Terminal() bool {
	return s == Confirmed || s == Compensated || s == Failed
}

// EventType names one OrderEvent's kind (spec §4.5/§8 scenario listings).
type EventType string

const (
	EventOrderCreated     EventType = "ORDER_CREATED"
	EventStockReserved    EventType = "STOCK_RESERVED"
	EventPaymentCharged   EventType = "PAYMENT_CHARGED"
	EventPaymentFailed    EventType = "PAYMENT_FAILED"
	EventConfirmFailed    EventType = "CONFIRM_FAILED"
	EventStockReleased    EventType = "STOCK_RELEASED"
	EventOrderConfirmed   EventType = "ORDER_CONFIRMED"
	EventOrderCompensated EventType = "ORDER_COMPENSATED"
	EventOrderFailed      EventType = "ORDER_FAILED"
)

// Item is one line item of an order, validated and priced server-side
// (spec §6: "any client-supplied total is ignored").
type Item struct {
	ProductID           string `json:"product_id"`
	Quantity            int64  `json:"quantity"`
	UnitPriceMinorUnits int64  `json:"unit_price_minor_units"`
}

// Order is the order aggregate (spec §3), assembled by the orchestrator's
// GetOrder query from the order_meta record, the event log summary, and the
// reservation/charge ids recovered from event history. The summary record is
// immutable once Status reaches a terminal state.
type Order struct {
	OrderID          string    `json:"order_id"`
	CustomerID       string    `json:"customer_id"`
	Items            []Item    `json:"items"`
	TotalMinorUnits  int64     `json:"total_minor_units"`
	Status           Status    `json:"status"`
	CorrelationID    string    `json:"correlation_id"`
	CreatedAt        time.Time `json:"created_at"`
	Version          int64     `json:"version"`
	ReservationIDs   []string  `json:"reservation_ids,omitempty"`
	ProviderChargeID string    `json:"provider_charge_id,omitempty"`
}

// NewOrderID generates an opaque ULID order identifier (spec §3: "order_id
// (opaque ULID)").
func NewOrderID() string {
	return ulid.Make().String()
}

// Total computes total_minor_units server-side from items, per spec §6.
func Total(items []Item) int64 {
	var total int64
	for _, item := range items {
		total += item.Quantity * item.UnitPriceMinorUnits
	}
	return total
}
