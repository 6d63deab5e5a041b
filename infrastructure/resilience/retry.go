// Package resilience provides the per-step retry policy the SAGA orchestrator
// runs every forward and compensation step through.
package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	cferrors "github.com/cloudflow/saga/infrastructure/errors"
	"github.com/cloudflow/saga/infrastructure/logging"
)

// RetryConfig configures exponential backoff for one SAGA step.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64 // 0-1, mapped to backoff.RandomizationFactor
	StepTimeout  time.Duration
}

// DefaultRetryConfig returns the orchestrator's fallback policy for a step
// with no explicit entry in its per-step table.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
		StepTimeout:  5 * time.Second,
	}
}

// Retry runs fn with exponential backoff, stopping early when fn returns a
// non-retryable error (per cferrors.IsRetryable). Each attempt gets its own
// StepTimeout-bound context; ctx cancellation aborts the whole retry loop.
func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	if cfg.InitialDelay > 0 {
		bo.InitialInterval = cfg.InitialDelay
	}
	if cfg.MaxDelay > 0 {
		bo.MaxInterval = cfg.MaxDelay
	}
	if cfg.Multiplier > 0 {
		bo.Multiplier = cfg.Multiplier
	}
	if cfg.Jitter > 0 {
		bo.RandomizationFactor = cfg.Jitter
	} else {
		bo.RandomizationFactor = 0
	}
	bo.MaxElapsedTime = 0

	maxRetries := uint64(cfg.MaxAttempts - 1)
	withMax := backoff.WithMaxRetries(bo, maxRetries)
	withCtx := backoff.WithContext(withMax, ctx)

	return backoff.Retry(func() error {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if cfg.StepTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, cfg.StepTimeout)
			defer cancel()
		}

		err := fn(attemptCtx)
		if err == nil {
			return nil
		}
		if !cferrors.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, withCtx)
}

// RetryForever runs fn with unbounded exponential backoff until it succeeds
// or ctx is done. Every error is treated as transient, including ones
// IsRetryable would classify as permanent: used by the orchestrator's
// compensation release loop, which spec §4.6/§9 mandates must keep retrying
// indefinitely (the reservation TTL is the only backstop, not a retry cap).
// onAttempt, if non-nil, is invoked after every failed attempt so the caller
// can alert operators without interrupting the loop.
func RetryForever(ctx context.Context, cfg RetryConfig, fn func(context.Context) error, onAttempt func(attempt int, err error)) error {
	bo := backoff.NewExponentialBackOff()
	if cfg.InitialDelay > 0 {
		bo.InitialInterval = cfg.InitialDelay
	}
	if cfg.MaxDelay > 0 {
		bo.MaxInterval = cfg.MaxDelay
	}
	if cfg.Multiplier > 0 {
		bo.Multiplier = cfg.Multiplier
	}
	if cfg.Jitter > 0 {
		bo.RandomizationFactor = cfg.Jitter
	} else {
		bo.RandomizationFactor = 0
	}
	bo.MaxElapsedTime = 0
	withCtx := backoff.WithContext(bo, ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		attemptCtx := ctx
		var cancel context.CancelFunc
		if cfg.StepTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, cfg.StepTimeout)
			defer cancel()
		}

		err := fn(attemptCtx)
		if err != nil && onAttempt != nil {
			onAttempt(attempt, err)
		}
		return err
	}, withCtx)
}

// RetryWithLog is Retry instrumented with per-attempt SAGA step logging.
func RetryWithLog(ctx context.Context, logger *logging.Logger, orderID, step string, cfg RetryConfig, fn func(context.Context) error) error {
	attempt := 0
	return Retry(ctx, cfg, func(attemptCtx context.Context) error {
		attempt++
		start := time.Now()
		err := fn(attemptCtx)
		if logger != nil {
			logger.LogSagaStep(ctx, orderID, step, attempt, time.Since(start), err)
		}
		return err
	})
}
