// Package policy implements the fixed-shape policy evaluator of §4.5, plus
// the additive CEL custom_rule extension of §4.12.
//
// Grounded on the teacher's pkg/pdp/pdp.go: a fail-closed
// PolicyDecisionPoint-shaped Evaluate(context) -> {allow, reason}, simplified
// from a general decision-hash-producing PDP down to this spec's fixed rule
// order (default -> effects -> signature -> optional CEL).
package policy

import (
	"encoding/json"
	"fmt"
	"os"
)

// Default values.
type Default string

const (
	DefaultAllow Default = "allow"
	DefaultDeny  Default = "deny"
)

// Policy is the parsed shape of policy.json.
type Policy struct {
	Version string  `json:"version"`
	Default Default `json:"default"`
	Effects *struct {
		DenyMutations bool `json:"deny_mutations"`
	} `json:"effects,omitempty"`
	Signature *struct {
		RequireVerified bool `json:"require_verified"`
	} `json:"signature,omitempty"`
	Rollback *struct {
		RequireFullCompensation bool `json:"require_full_compensation"`
	} `json:"rollback,omitempty"`
	// CustomRule is the additive §4.12 CEL expression, evaluated only when
	// SPELL_POLICY_CEL_ENABLED is set.
	CustomRule string `json:"custom_rule,omitempty"`
}

// Context is the input to Evaluate.
type Context struct {
	SpellID         string
	Publisher       string
	Risk            string
	Execution       string
	Effects         []EffectContext
	SignatureStatus string
}

// EffectContext mirrors manifest.Effect for policy evaluation without an
// import-cycle-causing dependency on the manifest package.
type EffectContext struct {
	Type    string
	Target  string
	Mutates bool
}

// Decision is the result of Evaluate.
type Decision struct {
	Allow  bool
	Reason string
}

// AllowAll returns the built-in policy used when no policy.json is present:
// allow everything.
func AllowAll() *Policy {
	return &Policy{Version: "v1", Default: DefaultAllow}
}

// Load reads policy.json, or returns the allow-everything default if absent.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return AllowAll(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("policy: reading %s: %w", path, err)
	}
	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("policy: parsing %s: %w", path, err)
	}
	if p.Version == "" {
		p.Version = "v1"
	}
	return &p, nil
}

// Save writes policy.json atomically.
func Save(path string, p *Policy) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	tmp := fmt.Sprintf("%s.%d.tmp", path, os.Getpid())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Evaluate applies §4.5's fixed rule order: default policy, then effect
// rules, then signature requirement, then (if enabled) the §4.12 CEL
// custom_rule. Each rule can only narrow an allow into a deny; none can
// widen a deny back into an allow.
func Evaluate(p *Policy, ctx Context, celEnabled bool) Decision {
	allow := p.Default == DefaultAllow
	reason := ""
	if !allow {
		reason = "default policy is deny"
	}

	if allow && p.Effects != nil && p.Effects.DenyMutations {
		for _, e := range ctx.Effects {
			if e.Mutates {
				allow = false
				reason = "mutating effect denied by policy"
				break
			}
		}
	}

	if allow && p.Signature != nil && p.Signature.RequireVerified {
		if ctx.SignatureStatus != "verified" {
			allow = false
			reason = "signature verification required by policy"
		}
	}

	if allow && celEnabled && p.CustomRule != "" {
		ok, err := evalCEL(p.CustomRule, ctx)
		if err != nil || !ok {
			allow = false
			reason = "custom_rule"
		}
	}

	return Decision{Allow: allow, Reason: reason}
}
