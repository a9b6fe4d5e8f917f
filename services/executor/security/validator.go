// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package security implements the pre-execution policy check applied to
// every submitted snippet before any model call or compilation happens.
//
// Checks run in a fixed order and the first failing check decides the
// verdict:
//
//  1. length against Policy.MaxCodeLength
//  2. case-insensitive blacklist substrings (all matches reported)
//  3. imports of dangerous JVM classes (all matches reported)
package security

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/AleutianAI/TestForge/services/executor/datatypes"
)

// Validator applies a Policy to submitted sources.
//
// Thread Safety: Safe for concurrent use. All fields are read-only after
// construction.
type Validator struct {
	policy  Policy
	lowered []string
	logger  *slog.Logger
}

// NewValidator creates a validator for the given policy.
//
// # Inputs
//
//   - policy: Rule set. Copied; later changes by the caller have no effect.
//   - logger: Logger for rejected submissions. Nil uses slog.Default().
//
// # Outputs
//
//   - *Validator: Ready to use.
//   - error: Wraps ErrInvalidPolicy if the policy does not validate.
func NewValidator(policy Policy, logger *slog.Logger) (*Validator, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := policy.Clone()
	lowered := make([]string, len(p.BlacklistedPatterns))
	for i, pattern := range p.BlacklistedPatterns {
		lowered[i] = strings.ToLower(pattern)
	}

	return &Validator{
		policy:  p,
		lowered: lowered,
		logger:  logger,
	}, nil
}

// Policy returns a copy of the policy in force.
func (v *Validator) Policy() Policy {
	return v.policy.Clone()
}

// Validate checks source against the policy.
//
// # Description
//
// Deterministic and free of side effects apart from logging. Length is
// counted in characters, not bytes.
//
// # Inputs
//
//   - source: The submitted snippet.
//
// # Outputs
//
//   - datatypes.SecurityVerdict: Valid, or the first failing check with its
//     error kind and client-facing details.
func (v *Validator) Validate(source string) datatypes.SecurityVerdict {
	length := utf8.RuneCountInString(source)
	if length > v.policy.MaxCodeLength {
		return datatypes.SecurityVerdict{
			Kind: datatypes.ErrCodeTooLong,
			Details: fmt.Sprintf("Code length %d exceeds maximum allowed length %d",
				length, v.policy.MaxCodeLength),
		}
	}

	if found := v.findBlacklisted(source); len(found) > 0 {
		v.logger.Warn("Blacklisted patterns found in code",
			slog.Any("patterns", found),
			slog.Int("code_length", length),
		)
		return datatypes.SecurityVerdict{
			Kind:    datatypes.ErrBlacklistedPatterns,
			Details: "Code contains forbidden patterns: " + strings.Join(found, ", "),
		}
	}

	if found := v.findDangerousImports(source); len(found) > 0 {
		v.logger.Warn("Potentially dangerous imports found",
			slog.Any("imports", found),
			slog.Int("code_length", length),
		)
		return datatypes.SecurityVerdict{
			Kind:    datatypes.ErrDangerousImports,
			Details: "Code contains potentially dangerous imports: " + strings.Join(found, ", "),
		}
	}

	return datatypes.SecurityVerdict{Valid: true}
}

// findBlacklisted returns every blacklisted pattern contained in source.
func (v *Validator) findBlacklisted(source string) []string {
	lowered := strings.ToLower(source)
	var found []string
	for i, pattern := range v.lowered {
		if strings.Contains(lowered, pattern) {
			found = append(found, v.policy.BlacklistedPatterns[i])
		}
	}
	return found
}

// findDangerousImports returns every forbidden name the source imports, in
// policy order and without duplicates.
func (v *Validator) findDangerousImports(source string) []string {
	if len(v.policy.DangerousImports) == 0 || !strings.Contains(source, "import") {
		return nil
	}

	refs := extractImports(context.Background(), source)
	if len(refs) == 0 {
		return nil
	}

	var found []string
	for _, forbidden := range v.policy.DangerousImports {
		for _, ref := range refs {
			if importMatches(ref, forbidden) {
				found = append(found, forbidden)
				break
			}
		}
	}
	return found
}
