// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package screen

import (
	"fmt"
	"sort"
	"sync"
	"unicode/utf8"
)

// CheckStatus is the three-valued outcome of one content check.
// Indeterminate is not a pass: an unclear record pitches.
type CheckStatus int

const (
	CheckPass CheckStatus = iota
	CheckFail
	CheckIndeterminate
)

// Check inspects one candidate record before it is admitted.
//
// Implementations must be safe for concurrent use.
type Check interface {
	Name() string
	Check(record *CanonicalRecord) (CheckStatus, string)
}

// CheckRegistry resolves check names from configuration. Registration
// happens at startup.
//
// Thread Safety: safe for concurrent use.
type CheckRegistry struct {
	mu     sync.RWMutex
	checks map[string]Check
}

// NewCheckRegistry creates a registry pre-loaded with the built-in
// checks.
func NewCheckRegistry() *CheckRegistry {
	r := &CheckRegistry{checks: make(map[string]Check)}
	r.mustRegister(utf8Check{})
	r.mustRegister(replacementRuneCheck{})
	return r
}

// Register adds a check under its name. Duplicate names error rather
// than silently overriding.
func (r *CheckRegistry) Register(c Check) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.checks[c.Name()]; exists {
		return fmt.Errorf("check %q already registered", c.Name())
	}
	r.checks[c.Name()] = c
	return nil
}

func (r *CheckRegistry) mustRegister(c Check) {
	if err := r.Register(c); err != nil {
		panic(err)
	}
}

// All returns every registered check in name order, so check execution
// order is deterministic across runs.
func (r *CheckRegistry) All() []Check {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.checks))
	for name := range r.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Check, 0, len(names))
	for _, name := range names {
		out = append(out, r.checks[name])
	}
	return out
}

// utf8Check rejects records whose text is not valid UTF-8.
type utf8Check struct{}

func (utf8Check) Name() string { return "utf8_valid" }

func (utf8Check) Check(record *CanonicalRecord) (CheckStatus, string) {
	if !utf8.ValidString(record.Text) {
		return CheckFail, "text is not valid utf-8"
	}
	return CheckPass, ""
}

// replacementRuneCheck flags text dominated by U+FFFD, the usual residue
// of a wrong-charset decode. A small amount is tolerated; a document
// that is mostly replacement runes is indeterminate, not clean.
type replacementRuneCheck struct{}

func (replacementRuneCheck) Name() string { return "replacement_runes" }

func (replacementRuneCheck) Check(record *CanonicalRecord) (CheckStatus, string) {
	if len(record.Text) == 0 {
		return CheckPass, ""
	}
	total, bad := 0, 0
	for _, r := range record.Text {
		total++
		if r == utf8.RuneError {
			bad++
		}
	}
	if bad*100 > total*5 {
		return CheckIndeterminate, "more than 5% replacement runes"
	}
	return CheckPass, ""
}
