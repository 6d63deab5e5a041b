package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LoadBreakerPolicies loads the circuit breaker policy file from
// config/circuit_breakers.yaml.
func LoadBreakerPolicies() (*BreakerPolicies, error) {
	return LoadBreakerPoliciesFromPath(filepath.Join("config", "circuit_breakers.yaml"))
}

// LoadBreakerPoliciesFromPath loads the circuit breaker policy file from a
// specific path.
func LoadBreakerPoliciesFromPath(path string) (*BreakerPolicies, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read circuit breaker policy: %w", err)
	}

	var cfg BreakerPolicies
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse circuit breaker policy: %w", err)
	}

	for name, policy := range cfg.Dependencies {
		if policy.FailThreshold <= 0 {
			return nil, fmt.Errorf("dependency %s: fail_threshold must be positive", name)
		}
		if policy.SuccessThreshold <= 0 {
			return nil, fmt.Errorf("dependency %s: success_threshold must be positive", name)
		}
	}

	return &cfg, nil
}

// LoadBreakerPoliciesOrDefault loads the policy file, falling back to
// DefaultBreakerPolicies when the file is absent or invalid.
func LoadBreakerPoliciesOrDefault() *BreakerPolicies {
	cfg, err := LoadBreakerPolicies()
	if err != nil {
		return DefaultBreakerPolicies()
	}
	return cfg
}

// DefaultBreakerPolicies returns the breaker policy applied to every
// dependency that has no explicit entry in the policy file (spec default:
// fail_threshold=5, success_threshold=2, cooldown=60s, probe_timeout=10s).
func DefaultBreakerPolicies() *BreakerPolicies {
	return &BreakerPolicies{
		Dependencies: map[string]*DependencyPolicy{
			"payment_provider": {
				Enabled:             true,
				FailThreshold:       5,
				SuccessThreshold:    2,
				CooldownSeconds:     60,
				ProbeTimeoutSeconds: 10,
				Description:         "external charge/refund endpoint",
			},
			"record_store": {
				Enabled:             true,
				FailThreshold:       5,
				SuccessThreshold:    2,
				CooldownSeconds:     60,
				ProbeTimeoutSeconds: 10,
				Description:         "inventory/idempotency/order backing store",
			},
			"notification_queue": {
				Enabled:             true,
				FailThreshold:       5,
				SuccessThreshold:    2,
				CooldownSeconds:     60,
				ProbeTimeoutSeconds: 10,
				Description:         "customer-facing order status notifications",
			},
		},
	}
}
