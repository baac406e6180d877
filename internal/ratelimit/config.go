package ratelimit

import (
	"fmt"
	"sort"

	"gatekeeper/internal/models"
)

// PoliciesFromConfig merges the configured policies over Presets. A configured
// policy sharing a preset's name inherits every zero field from the preset;
// switching to token bucket drops the preset's window. Routes and the default policy
// must name an existing policy.
func PoliciesFromConfig(cfg models.RateLimitConfig) ([]Policy, error) {
	merged := Presets()

	for name, pc := range cfg.Policies {
		p, err := policyFromConfig(name, pc, merged[name])
		if err != nil {
			return nil, err
		}
		merged[name] = p
	}

	if _, ok := merged[cfg.DefaultPolicy]; cfg.DefaultPolicy != "" && !ok {
		return nil, fmt.Errorf("default policy %s is not defined", cfg.DefaultPolicy)
	}
	for _, route := range cfg.Routes {
		if _, ok := merged[route.Policy]; !ok {
			return nil, fmt.Errorf("route %s references undefined policy %s", route.PathPrefix, route.Policy)
		}
	}

	names := make([]string, 0, len(merged))
	for name := range merged {
		names = append(names, name)
	}
	sort.Strings(names)

	policies := make([]Policy, 0, len(names))
	for _, name := range names {
		policies = append(policies, merged[name])
	}
	return policies, nil
}

func policyFromConfig(name string, pc models.PolicyConfig, base Policy) (Policy, error) {
	p := base
	p.Name = name

	if pc.Algorithm != "" {
		alg, err := ParseAlgorithm(pc.Algorithm)
		if err != nil {
			return Policy{}, fmt.Errorf("policy %s: %w", name, err)
		}
		if alg == AlgorithmTokenBucket && base.Algorithm != AlgorithmTokenBucket {
			p.Window = 0
		}
		p.Algorithm = alg
	}
	if p.Algorithm == "" {
		p.Algorithm = AlgorithmFixedWindow
	}

	if pc.MaxUnits > 0 {
		p.MaxUnits = pc.MaxUnits
	}
	if pc.Window > 0 {
		p.Window = pc.Window
	}
	if pc.RefillRate > 0 {
		p.RefillRate = pc.RefillRate
	}
	if pc.RefillPeriod > 0 {
		p.RefillPeriod = pc.RefillPeriod
	}
	if pc.Identifier != "" {
		p.IdentifierOverride = pc.Identifier
	}

	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}
