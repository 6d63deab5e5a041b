package config

import (
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"github.com/cloudflow/saga/infrastructure/resilience"
)

// Config holds every tunable the SAGA engine reads at startup. Per-step
// retry fields are flat (not a nested struct) because envdecode does not
// prefix nested struct tags; StepPolicies() assembles them back into
// resilience.RetryConfig values keyed by step name.
type Config struct {
	// RecordStoreDSN points at the backing record store (postgres://... or
	// redis://...). Config only carries the value; nothing in this package
	// selects a record-store adapter from it.
	RecordStoreDSN string `env:"CLOUDFLOW_RECORD_STORE_DSN"`

	// IdempotencyTTL is how long a DONE/FAILED idempotency record is kept
	// before it is eligible for garbage collection.
	IdempotencyTTL time.Duration `env:"CLOUDFLOW_IDEMPOTENCY_TTL,default=24h"`

	// InProgressTimeout is the age at which an IN_PROGRESS idempotency
	// record is considered abandoned by a crashed worker and reclaimable.
	InProgressTimeout time.Duration `env:"CLOUDFLOW_IN_PROGRESS_TIMEOUT,default=10s"`

	// ReservationTTL bounds how long a HELD inventory reservation lives
	// before the janitor releases it back to available stock.
	ReservationTTL time.Duration `env:"CLOUDFLOW_RESERVATION_TTL,default=15m"`

	// JanitorInterval is how often the janitor sweeps for expired
	// reservations and stuck idempotency records.
	JanitorInterval time.Duration `env:"CLOUDFLOW_JANITOR_INTERVAL,default=30s"`

	ReserveMaxAttempts  int           `env:"CLOUDFLOW_STEP_RESERVE_MAX_ATTEMPTS,default=3"`
	ReserveInitialDelay time.Duration `env:"CLOUDFLOW_STEP_RESERVE_INITIAL_DELAY,default=100ms"`
	ReserveMaxDelay     time.Duration `env:"CLOUDFLOW_STEP_RESERVE_MAX_DELAY,default=2s"`
	ReserveTimeout      time.Duration `env:"CLOUDFLOW_STEP_RESERVE_TIMEOUT,default=3s"`

	ChargeMaxAttempts  int           `env:"CLOUDFLOW_STEP_CHARGE_MAX_ATTEMPTS,default=3"`
	ChargeInitialDelay time.Duration `env:"CLOUDFLOW_STEP_CHARGE_INITIAL_DELAY,default=200ms"`
	ChargeMaxDelay     time.Duration `env:"CLOUDFLOW_STEP_CHARGE_MAX_DELAY,default=5s"`
	ChargeTimeout      time.Duration `env:"CLOUDFLOW_STEP_CHARGE_TIMEOUT,default=5s"`

	ConfirmMaxAttempts  int           `env:"CLOUDFLOW_STEP_CONFIRM_MAX_ATTEMPTS,default=5"`
	ConfirmInitialDelay time.Duration `env:"CLOUDFLOW_STEP_CONFIRM_INITIAL_DELAY,default=100ms"`
	ConfirmMaxDelay     time.Duration `env:"CLOUDFLOW_STEP_CONFIRM_MAX_DELAY,default=3s"`
	ConfirmTimeout      time.Duration `env:"CLOUDFLOW_STEP_CONFIRM_TIMEOUT,default=3s"`

	ReleaseMaxAttempts  int           `env:"CLOUDFLOW_STEP_RELEASE_MAX_ATTEMPTS,default=10"`
	ReleaseInitialDelay time.Duration `env:"CLOUDFLOW_STEP_RELEASE_INITIAL_DELAY,default=500ms"`
	ReleaseMaxDelay     time.Duration `env:"CLOUDFLOW_STEP_RELEASE_MAX_DELAY,default=30s"`
	ReleaseTimeout      time.Duration `env:"CLOUDFLOW_STEP_RELEASE_TIMEOUT,default=5s"`
}

// StepPolicies assembles the flat per-step env fields into
// resilience.RetryConfig values keyed by step name ("reserve", "charge",
// "confirm", "release").
func (c *Config) StepPolicies() map[string]resilience.RetryConfig {
	return map[string]resilience.RetryConfig{
		"reserve": {
			MaxAttempts:  c.ReserveMaxAttempts,
			InitialDelay: c.ReserveInitialDelay,
			MaxDelay:     c.ReserveMaxDelay,
			Multiplier:   2.0,
			Jitter:       0.1,
			StepTimeout:  c.ReserveTimeout,
		},
		"charge": {
			MaxAttempts:  c.ChargeMaxAttempts,
			InitialDelay: c.ChargeInitialDelay,
			MaxDelay:     c.ChargeMaxDelay,
			Multiplier:   2.0,
			Jitter:       0.1,
			StepTimeout:  c.ChargeTimeout,
		},
		"confirm": {
			MaxAttempts:  c.ConfirmMaxAttempts,
			InitialDelay: c.ConfirmInitialDelay,
			MaxDelay:     c.ConfirmMaxDelay,
			Multiplier:   2.0,
			Jitter:       0.1,
			StepTimeout:  c.ConfirmTimeout,
		},
		"release": {
			MaxAttempts:  c.ReleaseMaxAttempts,
			InitialDelay: c.ReleaseInitialDelay,
			MaxDelay:     c.ReleaseMaxDelay,
			Multiplier:   2.0,
			Jitter:       0.1,
			StepTimeout:  c.ReleaseTimeout,
		},
	}
}

// Load reads a .env file if present (ignored when absent) and decodes
// environment variables into a Config using struct tags.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MustLoad is Load but panics on error; used by cmd entry points where a
// malformed environment should fail fast at boot.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
