package janitor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cloudflow/saga/internal/idempotency"
	"github.com/cloudflow/saga/internal/inventory"
	"github.com/cloudflow/saga/internal/recordstore"
)

func newTestJanitor(t *testing.T, reservationTTL time.Duration) (*Janitor, *inventory.Engine, *recordstore.Memory) {
	t.Helper()
	store := recordstore.NewMemory(recordstore.DefaultMemoryConfig())
	t.Cleanup(store.Close)

	ledger := idempotency.New(store, time.Hour, 20*time.Millisecond)
	inv := inventory.New(store, ledger, time.Hour)

	j := New(Config{
		Inventory:      inv,
		Ledger:         ledger,
		ReservationTTL: reservationTTL,
	})
	return j, inv, store
}

func TestJanitor_SweepReleasesExpiredHeldReservation(t *testing.T) {
	j, inv, _ := newTestJanitor(t, 10*time.Millisecond)
	ctx := context.Background()

	if err := inv.SeedStock(ctx, "sku-1", 5); err != nil {
		t.Fatalf("SeedStock() error = %v", err)
	}
	res, err := inv.Reserve(ctx, "order-1", "sku-1", 2, "order-1:sku-1")
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	j.TrackReservation(res.ReservationID, "order-1", res.CreatedAt)

	time.Sleep(20 * time.Millisecond)
	j.SweepOnce()

	reloaded, err := inv.GetReservation(ctx, res.ReservationID)
	if err != nil {
		t.Fatalf("GetReservation() error = %v", err)
	}
	if reloaded.State != inventory.Released {
		t.Errorf("reservation state = %v, want RELEASED", reloaded.State)
	}

	remaining, err := inv.AvailableStock(ctx, "sku-1")
	if err != nil {
		t.Fatalf("AvailableStock() error = %v", err)
	}
	if remaining != 5 {
		t.Errorf("remaining stock = %d, want 5 (fully restored)", remaining)
	}
}

func TestJanitor_SweepLeavesFreshReservationAlone(t *testing.T) {
	j, inv, _ := newTestJanitor(t, time.Hour)
	ctx := context.Background()

	if err := inv.SeedStock(ctx, "sku-2", 5); err != nil {
		t.Fatalf("SeedStock() error = %v", err)
	}
	res, err := inv.Reserve(ctx, "order-2", "sku-2", 1, "order-2:sku-2")
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	j.TrackReservation(res.ReservationID, "order-2", res.CreatedAt)

	j.SweepOnce()

	reloaded, err := inv.GetReservation(ctx, res.ReservationID)
	if err != nil {
		t.Fatalf("GetReservation() error = %v", err)
	}
	if reloaded.State != inventory.Held {
		t.Errorf("reservation state = %v, want HELD (TTL has not elapsed)", reloaded.State)
	}
}

func TestJanitor_SweepUntracksConsumedReservation(t *testing.T) {
	j, inv, _ := newTestJanitor(t, 10*time.Millisecond)
	ctx := context.Background()

	if err := inv.SeedStock(ctx, "sku-3", 5); err != nil {
		t.Fatalf("SeedStock() error = %v", err)
	}
	res, err := inv.Reserve(ctx, "order-3", "sku-3", 1, "order-3:sku-3")
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if err := inv.Consume(ctx, res.ReservationID); err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	j.TrackReservation(res.ReservationID, "order-3", res.CreatedAt)

	time.Sleep(20 * time.Millisecond)
	j.SweepOnce()

	remaining, err := inv.AvailableStock(ctx, "sku-3")
	if err != nil {
		t.Fatalf("AvailableStock() error = %v", err)
	}
	if remaining != 4 {
		t.Errorf("remaining stock = %d, want 4 (a consumed reservation must never be released)", remaining)
	}
}

func TestJanitor_SweepReportsStuckIdempotencyKey(t *testing.T) {
	store := recordstore.NewMemory(recordstore.DefaultMemoryConfig())
	t.Cleanup(store.Close)
	ledger := idempotency.New(store, time.Hour, 10*time.Millisecond)

	const key = "saga:order-4:charge"
	started := make(chan struct{})
	release := make(chan struct{})
	go ledger.Run(context.Background(), key, func(ctx context.Context) (json.RawMessage, error) {
		close(started)
		<-release
		return json.RawMessage(`{}`), nil
	})
	<-started
	defer close(release)

	time.Sleep(20 * time.Millisecond)

	var reported string
	var reportedAge time.Duration
	j := New(Config{
		Ledger:         ledger,
		ReservationTTL: time.Hour,
		OnStuckIdempotencyKey: func(key string, age time.Duration) {
			reported = key
			reportedAge = age
		},
	})
	j.TrackIdempotencyKey(key, time.Now().Add(-20*time.Millisecond))
	j.SweepOnce()

	if reported != key {
		t.Errorf("reported key = %q, want %q", reported, key)
	}
	if reportedAge <= 0 {
		t.Errorf("reportedAge = %v, want > 0", reportedAge)
	}
}
