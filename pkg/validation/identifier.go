// Copyright (C) 2025 Webra (dev@webra.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided values that end up in
// database queries, cache keys, or realtime room names. Validating at the
// boundary keeps a malformed id from ever reaching a query or a key
// namespace.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// identifierPattern matches the ids this service mints and accepts: UUIDs
// and short slug-style ids. Letters, digits, underscores, hyphens, 1-64
// characters.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-]{0,63}$`)

// Lock lease bounds in milliseconds. A lease shorter than a second churns
// for no benefit; one longer than an hour outlives any editing session.
const (
	MinLockDurationMs = 1_000
	MaxLockDurationMs = 3_600_000
)

// ValidateIdentifier checks a project, element, or session id.
//
// Valid ids are 1-64 characters of letters, digits, underscores, and
// hyphens, starting with a letter or digit. This covers UUIDs and slug ids
// while rejecting anything that could escape a cache-key or room namespace.
//
// Example:
//
//	if err := validation.ValidateIdentifier(projectID); err != nil {
//	    return nil, fmt.Errorf("invalid project id: %w", err)
//	}
func ValidateIdentifier(id string) error {
	if id == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	if !identifierPattern.MatchString(id) {
		return fmt.Errorf("invalid identifier: %q (must be 1-64 alphanumeric chars, underscores, or hyphens)", id)
	}
	return nil
}

// ValidateIdentifiers validates a batch of ids, reporting every invalid one.
func ValidateIdentifiers(ids []string) error {
	var invalid []string
	for _, id := range ids {
		if err := ValidateIdentifier(id); err != nil {
			invalid = append(invalid, id)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid identifiers: %v", invalid)
	}
	return nil
}

// SanitizeSessionID trims and validates a client-supplied session id.
// Returns the cleaned id, or an error when the value cannot be used as a
// change-log session key.
func SanitizeSessionID(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if err := ValidateIdentifier(trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}

// ValidateLockDuration checks a lock lease length in milliseconds against
// the service bounds. Zero is allowed and means "use the default".
func ValidateLockDuration(ms int) error {
	if ms == 0 {
		return nil
	}
	if ms < MinLockDurationMs || ms > MaxLockDurationMs {
		return fmt.Errorf("lock duration %dms out of range [%d, %d]", ms, MinLockDurationMs, MaxLockDurationMs)
	}
	return nil
}
