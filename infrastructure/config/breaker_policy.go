package config

// DependencyPolicy holds the circuit breaker tuning for one downstream
// dependency (a payment provider, the record store, etc).
type DependencyPolicy struct {
	// Enabled determines whether the breaker is active for this dependency.
	// A disabled policy makes the breaker a pass-through.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// FailThreshold is the number of consecutive failures in CLOSED that
	// trips the breaker to OPEN.
	FailThreshold int `yaml:"fail_threshold" json:"fail_threshold"`

	// SuccessThreshold is the number of consecutive successes in HALF_OPEN
	// required to close the breaker again.
	SuccessThreshold int `yaml:"success_threshold" json:"success_threshold"`

	// CooldownSeconds is how long the breaker stays OPEN before admitting a
	// single HALF_OPEN probe.
	CooldownSeconds int `yaml:"cooldown_seconds" json:"cooldown_seconds"`

	// ProbeTimeoutSeconds bounds how long a HALF_OPEN probe counts as in
	// flight. Once it has run longer, the next Allow admits a new probe and
	// the breaker stays HALF_OPEN.
	ProbeTimeoutSeconds int `yaml:"probe_timeout_seconds" json:"probe_timeout_seconds"`

	// Description is a human-readable note, surfaced in admin tooling.
	Description string `yaml:"description" json:"description"`
}

// BreakerPolicies holds the per-dependency circuit breaker configuration
// loaded from a policy file.
type BreakerPolicies struct {
	Dependencies map[string]*DependencyPolicy `yaml:"dependencies" json:"dependencies"`
}

// IsEnabled reports whether the named dependency has breaker protection
// turned on. Returns false if the dependency has no entry.
func (c *BreakerPolicies) IsEnabled(dependency string) bool {
	if c == nil || c.Dependencies == nil {
		return false
	}
	policy, ok := c.Dependencies[dependency]
	if !ok {
		return false
	}
	return policy.Enabled
}

// GetPolicy returns the policy for a dependency, or nil if it has no entry.
func (c *BreakerPolicies) GetPolicy(dependency string) *DependencyPolicy {
	if c == nil || c.Dependencies == nil {
		return nil
	}
	return c.Dependencies[dependency]
}

// EnabledDependencies returns the names of dependencies with breaker
// protection turned on.
func (c *BreakerPolicies) EnabledDependencies() []string {
	if c == nil || c.Dependencies == nil {
		return nil
	}
	var enabled []string
	for name, policy := range c.Dependencies {
		if policy.Enabled {
			enabled = append(enabled, name)
		}
	}
	return enabled
}

// DisabledDependencies returns the names of dependencies with breaker
// protection turned off.
func (c *BreakerPolicies) DisabledDependencies() []string {
	if c == nil || c.Dependencies == nil {
		return nil
	}
	var disabled []string
	for name, policy := range c.Dependencies {
		if !policy.Enabled {
			disabled = append(disabled, name)
		}
	}
	return disabled
}
