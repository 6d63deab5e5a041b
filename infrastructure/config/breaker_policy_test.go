package config

import (
	"sort"
	"testing"
)

func TestBreakerPoliciesIsEnabled(t *testing.T) {
	cfg := &BreakerPolicies{
		Dependencies: map[string]*DependencyPolicy{
			"enabled-dep":  {Enabled: true, FailThreshold: 5, SuccessThreshold: 2},
			"disabled-dep": {Enabled: false, FailThreshold: 5, SuccessThreshold: 2},
		},
	}

	t.Run("enabled dependency", func(t *testing.T) {
		if !cfg.IsEnabled("enabled-dep") {
			t.Error("IsEnabled() should return true for enabled dependency")
		}
	})

	t.Run("disabled dependency", func(t *testing.T) {
		if cfg.IsEnabled("disabled-dep") {
			t.Error("IsEnabled() should return false for disabled dependency")
		}
	})

	t.Run("nonexistent dependency", func(t *testing.T) {
		if cfg.IsEnabled("nonexistent") {
			t.Error("IsEnabled() should return false for nonexistent dependency")
		}
	})

	t.Run("nil config", func(t *testing.T) {
		var nilCfg *BreakerPolicies
		if nilCfg.IsEnabled("any") {
			t.Error("IsEnabled() should return false for nil config")
		}
	})

	t.Run("nil dependencies map", func(t *testing.T) {
		emptyCfg := &BreakerPolicies{Dependencies: nil}
		if emptyCfg.IsEnabled("any") {
			t.Error("IsEnabled() should return false for nil dependencies map")
		}
	})
}

func TestBreakerPoliciesGetPolicy(t *testing.T) {
	cfg := &BreakerPolicies{
		Dependencies: map[string]*DependencyPolicy{
			"payment_provider": {Enabled: true, FailThreshold: 5, SuccessThreshold: 2, Description: "charges"},
		},
	}

	t.Run("existing dependency", func(t *testing.T) {
		policy := cfg.GetPolicy("payment_provider")
		if policy == nil {
			t.Fatal("GetPolicy() returned nil for existing dependency")
		}
		if policy.FailThreshold != 5 {
			t.Errorf("FailThreshold = %d, want 5", policy.FailThreshold)
		}
		if policy.Description != "charges" {
			t.Errorf("Description = %s, want charges", policy.Description)
		}
	})

	t.Run("nonexistent dependency", func(t *testing.T) {
		if cfg.GetPolicy("nonexistent") != nil {
			t.Error("GetPolicy() should return nil for nonexistent dependency")
		}
	})

	t.Run("nil config", func(t *testing.T) {
		var nilCfg *BreakerPolicies
		if nilCfg.GetPolicy("any") != nil {
			t.Error("GetPolicy() should return nil for nil config")
		}
	})
}

func TestBreakerPoliciesEnabledDependencies(t *testing.T) {
	cfg := &BreakerPolicies{
		Dependencies: map[string]*DependencyPolicy{
			"dep-a": {Enabled: true},
			"dep-b": {Enabled: false},
			"dep-c": {Enabled: true},
			"dep-d": {Enabled: false},
		},
	}

	t.Run("returns enabled dependencies", func(t *testing.T) {
		enabled := cfg.EnabledDependencies()
		if len(enabled) != 2 {
			t.Fatalf("len(EnabledDependencies()) = %d, want 2", len(enabled))
		}
		sort.Strings(enabled)
		if enabled[0] != "dep-a" || enabled[1] != "dep-c" {
			t.Errorf("EnabledDependencies() = %v, want [dep-a dep-c]", enabled)
		}
	})

	t.Run("nil config", func(t *testing.T) {
		var nilCfg *BreakerPolicies
		if nilCfg.EnabledDependencies() != nil {
			t.Error("EnabledDependencies() should return nil for nil config")
		}
	})
}

func TestBreakerPoliciesDisabledDependencies(t *testing.T) {
	cfg := &BreakerPolicies{
		Dependencies: map[string]*DependencyPolicy{
			"dep-a": {Enabled: true},
			"dep-b": {Enabled: false},
		},
	}

	disabled := cfg.DisabledDependencies()
	if len(disabled) != 1 || disabled[0] != "dep-b" {
		t.Errorf("DisabledDependencies() = %v, want [dep-b]", disabled)
	}
}

func TestDependencyPolicyStruct(t *testing.T) {
	policy := DependencyPolicy{
		Enabled:             true,
		FailThreshold:       5,
		SuccessThreshold:    2,
		CooldownSeconds:     60,
		ProbeTimeoutSeconds: 10,
		Description:         "test dependency",
	}

	if !policy.Enabled {
		t.Error("Enabled should be true")
	}
	if policy.CooldownSeconds != 60 {
		t.Errorf("CooldownSeconds = %d, want 60", policy.CooldownSeconds)
	}
}
