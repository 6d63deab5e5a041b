package eventlog

import (
	"context"
	"sync"
	"testing"

	cferrors "github.com/cloudflow/saga/infrastructure/errors"
	"github.com/cloudflow/saga/internal/recordstore"
)

func TestLog_AppendBuildsContiguousSequence(t *testing.T) {
	m := recordstore.NewMemory(recordstore.DefaultMemoryConfig())
	defer m.Close()
	l := New(m)
	ctx := context.Background()

	e1, err := l.Append(ctx, "order-1", "ORDER_CREATED", nil, "PENDING")
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if e1.Seq != 1 {
		t.Errorf("Seq = %d, want 1", e1.Seq)
	}

	e2, err := l.Append(ctx, "order-1", "STOCK_RESERVED", nil, "STOCK_RESERVED")
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if e2.Seq != 2 {
		t.Errorf("Seq = %d, want 2", e2.Seq)
	}
}

func TestLog_HistoryReturnsEventsInOrder(t *testing.T) {
	m := recordstore.NewMemory(recordstore.DefaultMemoryConfig())
	defer m.Close()
	l := New(m)
	ctx := context.Background()

	types := []string{"ORDER_CREATED", "STOCK_RESERVED", "PAYMENT_CHARGED", "ORDER_CONFIRMED"}
	for _, typ := range types {
		if _, err := l.Append(ctx, "order-1", typ, nil, typ); err != nil {
			t.Fatalf("Append(%s) error = %v", typ, err)
		}
	}

	history, err := l.History(ctx, "order-1")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("len(history) = %d, want 4", len(history))
	}
	for i, event := range history {
		if event.Seq != int64(i+1) {
			t.Errorf("history[%d].Seq = %d, want %d", i, event.Seq, i+1)
		}
		if event.Type != types[i] {
			t.Errorf("history[%d].Type = %s, want %s", i, event.Type, types[i])
		}
	}
}

func TestLog_HistoryNotFoundForUnknownOrder(t *testing.T) {
	m := recordstore.NewMemory(recordstore.DefaultMemoryConfig())
	defer m.Close()
	l := New(m)

	_, err := l.History(context.Background(), "does-not-exist")
	if cferrors.CodeOf(err) != cferrors.ErrCodeNotFound {
		t.Errorf("CodeOf(err) = %v, want CF_NOT_FOUND", cferrors.CodeOf(err))
	}
}

func TestLog_CurrentReflectsLatestStatus(t *testing.T) {
	m := recordstore.NewMemory(recordstore.DefaultMemoryConfig())
	defer m.Close()
	l := New(m)
	ctx := context.Background()

	l.Append(ctx, "order-1", "ORDER_CREATED", nil, "PENDING")
	l.Append(ctx, "order-1", "STOCK_RESERVED", nil, "STOCK_RESERVED")

	summary, err := l.Current(ctx, "order-1", recordstore.Strong)
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if summary.Status != "STOCK_RESERVED" {
		t.Errorf("Status = %s, want STOCK_RESERVED", summary.Status)
	}
	if summary.Version != 2 {
		t.Errorf("Version = %d, want 2", summary.Version)
	}
}

func TestLog_ConcurrentAppendsProduceContiguousSequenceNoGaps(t *testing.T) {
	m := recordstore.NewMemory(recordstore.DefaultMemoryConfig())
	defer m.Close()
	l := New(m)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			l.Append(ctx, "order-concurrent", "EVENT", nil, "SOME_STATUS")
		}(i)
	}
	wg.Wait()

	history, err := l.History(ctx, "order-concurrent")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 20 {
		t.Fatalf("len(history) = %d, want 20", len(history))
	}
	seen := make(map[int64]bool)
	for _, event := range history {
		if seen[event.Seq] {
			t.Errorf("duplicate seq %d", event.Seq)
		}
		seen[event.Seq] = true
	}
	for seq := int64(1); seq <= 20; seq++ {
		if !seen[seq] {
			t.Errorf("missing seq %d", seq)
		}
	}
}
