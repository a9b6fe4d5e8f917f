// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package security

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// defaultPolicyYAML holds the policy shipped with the binary.
//
// Usage:
//
//	policy, err := ParsePolicy(defaultPolicyYAML)
//
//go:embed policies/default_policy.yaml
var defaultPolicyYAML []byte

// importPathPattern matches a dotted, fully qualified JVM name.
var importPathPattern = regexp.MustCompile(`^[A-Za-z_]\w*(\.[A-Za-z_]\w*)*$`)

// =============================================================================
// Policy
// =============================================================================

// Policy is the read-only rule set applied to every submission.
//
// A Policy is built once at startup and never mutated. Copies handed out by
// Clone share nothing with the original.
type Policy struct {
	// MaxCodeLength is the maximum submission length in characters.
	MaxCodeLength int `yaml:"max_code_length"`

	// BlacklistedPatterns are case-insensitive substrings that reject a
	// submission. Every match is reported, in policy order.
	BlacklistedPatterns []string `yaml:"blacklisted_patterns"`

	// DangerousImports are fully qualified names that must not be imported.
	DangerousImports []string `yaml:"dangerous_imports"`
}

// ParsePolicy decodes a YAML policy document and validates it.
func ParsePolicy(data []byte) (Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// DefaultPolicy returns the embedded default policy.
//
// The embedded document is validated by tests, so a failure here means the
// binary was built from a broken policy file.
func DefaultPolicy() Policy {
	p, err := ParsePolicy(defaultPolicyYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded security policy is invalid: %v", err))
	}
	return p
}

// Validate checks that the policy is usable.
//
// # Outputs
//
//   - error: Wraps ErrInvalidPolicy naming the first offending field.
func (p Policy) Validate() error {
	if p.MaxCodeLength < 1 {
		return fmt.Errorf("%w: max_code_length must be positive, got %d", ErrInvalidPolicy, p.MaxCodeLength)
	}
	for i, pattern := range p.BlacklistedPatterns {
		if strings.TrimSpace(pattern) == "" {
			return fmt.Errorf("%w: blacklisted_patterns[%d] is blank", ErrInvalidPolicy, i)
		}
	}
	for i, imp := range p.DangerousImports {
		if !importPathPattern.MatchString(imp) {
			return fmt.Errorf("%w: dangerous_imports[%d] %q is not a qualified name", ErrInvalidPolicy, i, imp)
		}
	}
	return nil
}

// Clone returns a deep copy of the policy.
func (p Policy) Clone() Policy {
	return Policy{
		MaxCodeLength:       p.MaxCodeLength,
		BlacklistedPatterns: append([]string(nil), p.BlacklistedPatterns...),
		DangerousImports:    append([]string(nil), p.DangerousImports...),
	}
}

// WithOverrides returns a copy with the non-zero overrides applied.
//
// # Inputs
//
//   - maxCodeLength: Replaces MaxCodeLength when > 0.
//   - blacklist: Replaces BlacklistedPatterns when non-empty.
func (p Policy) WithOverrides(maxCodeLength int, blacklist []string) Policy {
	out := p.Clone()
	if maxCodeLength > 0 {
		out.MaxCodeLength = maxCodeLength
	}
	if len(blacklist) > 0 {
		out.BlacklistedPatterns = append([]string(nil), blacklist...)
	}
	return out
}

// MarshalDocument renders the policy as a YAML document.
func (p Policy) MarshalDocument() ([]byte, error) {
	return yaml.Marshal(p)
}
