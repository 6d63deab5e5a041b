package inventory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	cferrors "github.com/cloudflow/saga/infrastructure/errors"
	"github.com/cloudflow/saga/internal/idempotency"
	"github.com/cloudflow/saga/internal/recordstore"
)

func newTestEngine() (*Engine, *recordstore.Memory) {
	m := recordstore.NewMemory(recordstore.DefaultMemoryConfig())
	ledger := idempotency.New(m, time.Hour, 10*time.Second)
	return New(m, ledger, 15*time.Minute), m
}

func TestEngine_ReserveSucceedsWithinStock(t *testing.T) {
	e, m := newTestEngine()
	defer m.Close()
	ctx := context.Background()

	if err := e.SeedStock(ctx, "KEYBD-01", 10); err != nil {
		t.Fatalf("SeedStock() error = %v", err)
	}

	res, err := e.Reserve(ctx, "order-1", "KEYBD-01", 1, "order-1:reserve")
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if res.State != Held {
		t.Errorf("State = %v, want HELD", res.State)
	}

	available, err := e.AvailableStock(ctx, "KEYBD-01")
	if err != nil {
		t.Fatalf("AvailableStock() error = %v", err)
	}
	if available != 9 {
		t.Errorf("available = %d, want 9", available)
	}
}

func TestEngine_ReserveExactAvailableSucceeds(t *testing.T) {
	e, m := newTestEngine()
	defer m.Close()
	ctx := context.Background()
	e.SeedStock(ctx, "WEBCAM-4K", 1)

	if _, err := e.Reserve(ctx, "order-1", "WEBCAM-4K", 1, "order-1:reserve"); err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	available, _ := e.AvailableStock(ctx, "WEBCAM-4K")
	if available != 0 {
		t.Errorf("available = %d, want 0", available)
	}
}

func TestEngine_ReserveOneMoreThanAvailableFailsInsufficientStock(t *testing.T) {
	e, m := newTestEngine()
	defer m.Close()
	ctx := context.Background()
	e.SeedStock(ctx, "WEBCAM-4K", 1)

	_, err := e.Reserve(ctx, "order-1", "WEBCAM-4K", 2, "order-1:reserve")
	if cferrors.CodeOf(err) != cferrors.ErrCodeInsufficientStock {
		t.Errorf("CodeOf(err) = %v, want CF_INSUFFICIENT_STOCK", cferrors.CodeOf(err))
	}
}

func TestEngine_ReserveRetryReturnsSameReservation(t *testing.T) {
	e, m := newTestEngine()
	defer m.Close()
	ctx := context.Background()
	e.SeedStock(ctx, "KEYBD-01", 10)

	first, err := e.Reserve(ctx, "order-1", "KEYBD-01", 1, "order-1:reserve")
	if err != nil {
		t.Fatalf("first Reserve() error = %v", err)
	}
	second, err := e.Reserve(ctx, "order-1", "KEYBD-01", 1, "order-1:reserve")
	if err != nil {
		t.Fatalf("retried Reserve() error = %v", err)
	}
	if first.ReservationID != second.ReservationID {
		t.Errorf("retry produced a different reservation: %s vs %s", first.ReservationID, second.ReservationID)
	}

	available, _ := e.AvailableStock(ctx, "KEYBD-01")
	if available != 9 {
		t.Errorf("available = %d, want 9 (retry must not double-decrement)", available)
	}
}

func TestEngine_ReserveThenReleaseRestoresStock(t *testing.T) {
	e, m := newTestEngine()
	defer m.Close()
	ctx := context.Background()
	e.SeedStock(ctx, "KEYBD-01", 10)

	res, err := e.Reserve(ctx, "order-1", "KEYBD-01", 3, "order-1:reserve")
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if err := e.Release(ctx, res.ReservationID); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	available, _ := e.AvailableStock(ctx, "KEYBD-01")
	if available != 10 {
		t.Errorf("available = %d, want 10 after release", available)
	}
}

func TestEngine_ReleaseIsIdempotent(t *testing.T) {
	e, m := newTestEngine()
	defer m.Close()
	ctx := context.Background()
	e.SeedStock(ctx, "KEYBD-01", 10)
	res, _ := e.Reserve(ctx, "order-1", "KEYBD-01", 1, "order-1:reserve")

	if err := e.Release(ctx, res.ReservationID); err != nil {
		t.Fatalf("first Release() error = %v", err)
	}
	if err := e.Release(ctx, res.ReservationID); err != nil {
		t.Fatalf("second Release() error = %v, want no-op success", err)
	}

	available, _ := e.AvailableStock(ctx, "KEYBD-01")
	if available != 10 {
		t.Errorf("available = %d, want 10 (double-release must not double-credit)", available)
	}
}

func TestEngine_ReleaseAfterConsumeFails(t *testing.T) {
	e, m := newTestEngine()
	defer m.Close()
	ctx := context.Background()
	e.SeedStock(ctx, "KEYBD-01", 10)
	res, _ := e.Reserve(ctx, "order-1", "KEYBD-01", 1, "order-1:reserve")

	if err := e.Consume(ctx, res.ReservationID); err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	err := e.Release(ctx, res.ReservationID)
	if cferrors.CodeOf(err) != cferrors.ErrCodeInternal {
		t.Errorf("CodeOf(err) = %v, want CF_INTERNAL for release-after-consume", cferrors.CodeOf(err))
	}
}

func TestEngine_ConcurrentReservationsNeverOversell(t *testing.T) {
	e, m := newTestEngine()
	defer m.Close()
	ctx := context.Background()
	e.SeedStock(ctx, "WEBCAM-4K", 1)

	var wg sync.WaitGroup
	var succeeded, failed int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := e.Reserve(ctx, "order", "WEBCAM-4K", 1, "order-concurrent-"+string(rune('0'+n)))
			if err == nil {
				atomic.AddInt32(&succeeded, 1)
			} else if cferrors.CodeOf(err) == cferrors.ErrCodeInsufficientStock {
				atomic.AddInt32(&failed, 1)
			}
		}(i)
	}
	wg.Wait()

	if succeeded != 1 {
		t.Errorf("succeeded = %d, want exactly 1", succeeded)
	}
	if failed != 9 {
		t.Errorf("failed = %d, want exactly 9", failed)
	}

	available, _ := e.AvailableStock(ctx, "WEBCAM-4K")
	if available != 0 {
		t.Errorf("available = %d, want 0", available)
	}
}
