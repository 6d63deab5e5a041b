package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultBreakerPolicies(t *testing.T) {
	cfg := DefaultBreakerPolicies()
	if cfg == nil {
		t.Fatal("DefaultBreakerPolicies() returned nil")
	}

	expected := []string{"payment_provider", "record_store", "notification_queue"}
	for _, dep := range expected {
		policy, ok := cfg.Dependencies[dep]
		if !ok {
			t.Errorf("missing dependency %q in default policy", dep)
			continue
		}
		if !policy.Enabled {
			t.Errorf("dependency %q should be enabled by default", dep)
		}
		if policy.FailThreshold != 5 {
			t.Errorf("dependency %q FailThreshold = %d, want 5", dep, policy.FailThreshold)
		}
		if policy.SuccessThreshold != 2 {
			t.Errorf("dependency %q SuccessThreshold = %d, want 2", dep, policy.SuccessThreshold)
		}
		if policy.CooldownSeconds != 60 {
			t.Errorf("dependency %q CooldownSeconds = %d, want 60", dep, policy.CooldownSeconds)
		}
	}
}

func TestLoadBreakerPoliciesFromPath(t *testing.T) {
	t.Run("valid policy file", func(t *testing.T) {
		tmpDir := t.TempDir()
		path := filepath.Join(tmpDir, "circuit_breakers.yaml")

		content := `
dependencies:
  test_dep:
    enabled: true
    fail_threshold: 3
    success_threshold: 1
    cooldown_seconds: 30
    probe_timeout_seconds: 5
    description: "test dependency"
`
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write test policy file: %v", err)
		}

		cfg, err := LoadBreakerPoliciesFromPath(path)
		if err != nil {
			t.Fatalf("LoadBreakerPoliciesFromPath() error = %v", err)
		}

		dep, ok := cfg.Dependencies["test_dep"]
		if !ok {
			t.Fatal("test_dep not found in policy")
		}
		if dep.FailThreshold != 3 {
			t.Errorf("FailThreshold = %d, want 3", dep.FailThreshold)
		}
	})

	t.Run("missing fail_threshold", func(t *testing.T) {
		tmpDir := t.TempDir()
		path := filepath.Join(tmpDir, "circuit_breakers.yaml")

		content := `
dependencies:
  test_dep:
    enabled: true
    success_threshold: 1
`
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write test policy file: %v", err)
		}

		_, err := LoadBreakerPoliciesFromPath(path)
		if err == nil {
			t.Error("expected error for missing fail_threshold")
		}
	})

	t.Run("file not found", func(t *testing.T) {
		_, err := LoadBreakerPoliciesFromPath("/nonexistent/path/circuit_breakers.yaml")
		if err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("invalid yaml", func(t *testing.T) {
		tmpDir := t.TempDir()
		path := filepath.Join(tmpDir, "circuit_breakers.yaml")

		if err := os.WriteFile(path, []byte("invalid: yaml: content:"), 0644); err != nil {
			t.Fatalf("failed to write test policy file: %v", err)
		}

		_, err := LoadBreakerPoliciesFromPath(path)
		if err == nil {
			t.Error("expected error for invalid yaml")
		}
	})
}

func TestLoadBreakerPoliciesOrDefault(t *testing.T) {
	cfg := LoadBreakerPoliciesOrDefault()
	if cfg == nil {
		t.Fatal("LoadBreakerPoliciesOrDefault() returned nil")
	}
	if len(cfg.Dependencies) == 0 {
		t.Error("expected non-empty dependencies map")
	}
}
