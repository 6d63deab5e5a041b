package payment

import (
	"context"
	"sync"

	cferrors "github.com/cloudflow/saga/infrastructure/errors"
)

// Stub is an in-memory Provider double for tests, configurable to script
// the scenarios of spec §8 (declines, transient errors, eventual recovery).
type Stub struct {
	mu sync.Mutex

	// Script, if non-nil, is consulted in order; each call consumes one
	// entry. When the script is exhausted, Default applies.
	Script []ChargeResult

	// Default is returned once Script is exhausted (zero value: Captured).
	Default ChargeResult

	calls []ChargeRequest
	seen  map[string]ChargeResult // idempotency_key -> first Captured/Declined result, for replay realism
}

// NewStub constructs a Stub that captures every charge by default.
func NewStub() *Stub {
	return &Stub{
		Default: ChargeResult{Outcome: Captured, ProviderChargeID: "stub-charge"},
		seen:    make(map[string]ChargeResult),
	}
}

func (s *Stub) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, req)

	if result, ok := s.seen[req.IdempotencyKey]; ok {
		if result.Outcome == Declined {
			return result, cferrors.PaymentDeclined(result.ReasonCode)
		}
		return result, nil
	}

	var result ChargeResult
	if len(s.Script) > 0 {
		result = s.Script[0]
		s.Script = s.Script[1:]
	} else {
		result = s.Default
	}
	if result.Outcome != TransientError {
		s.seen[req.IdempotencyKey] = result
	}

	switch result.Outcome {
	case Declined:
		return result, cferrors.PaymentDeclined(result.ReasonCode)
	case TransientError:
		return result, cferrors.Unavailable("charge", nil)
	default:
		return result, nil
	}
}

// Calls returns every ChargeRequest observed so far, for assertions.
func (s *Stub) Calls() []ChargeRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ChargeRequest(nil), s.calls...)
}
