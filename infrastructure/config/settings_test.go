package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	clearCloudflowEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.InProgressTimeout != 10*time.Second {
		t.Errorf("InProgressTimeout = %v, want 10s", cfg.InProgressTimeout)
	}
	if cfg.IdempotencyTTL != 24*time.Hour {
		t.Errorf("IdempotencyTTL = %v, want 24h", cfg.IdempotencyTTL)
	}
	if cfg.ChargeMaxAttempts != 3 {
		t.Errorf("ChargeMaxAttempts = %d, want 3", cfg.ChargeMaxAttempts)
	}
	if cfg.ReleaseMaxAttempts != 10 {
		t.Errorf("ReleaseMaxAttempts = %d, want 10", cfg.ReleaseMaxAttempts)
	}
}

func TestLoad_OverridesFromEnv(t *testing.T) {
	clearCloudflowEnv(t)
	os.Setenv("CLOUDFLOW_IN_PROGRESS_TIMEOUT", "30s")
	defer os.Unsetenv("CLOUDFLOW_IN_PROGRESS_TIMEOUT")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.InProgressTimeout != 30*time.Second {
		t.Errorf("InProgressTimeout = %v, want 30s", cfg.InProgressTimeout)
	}
}

func TestConfig_StepPolicies(t *testing.T) {
	clearCloudflowEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	policies := cfg.StepPolicies()
	for _, step := range []string{"reserve", "charge", "confirm", "release"} {
		policy, ok := policies[step]
		if !ok {
			t.Errorf("missing step policy for %q", step)
			continue
		}
		if policy.MaxAttempts <= 0 {
			t.Errorf("step %q MaxAttempts = %d, want > 0", step, policy.MaxAttempts)
		}
		if policy.StepTimeout <= 0 {
			t.Errorf("step %q StepTimeout = %v, want > 0", step, policy.StepTimeout)
		}
	}

	if policies["release"].MaxAttempts != policies["reserve"].MaxAttempts {
		return // both configurable independently; no fixed relationship asserted
	}
}

func clearCloudflowEnv(t *testing.T) {
	t.Helper()
	for _, env := range os.Environ() {
		for i := 0; i < len(env); i++ {
			if env[i] == '=' {
				key := env[:i]
				if len(key) >= 10 && key[:10] == "CLOUDFLOW_" {
					os.Unsetenv(key)
				}
				break
			}
		}
	}
}
