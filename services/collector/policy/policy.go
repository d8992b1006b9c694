// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package policy loads and evaluates the license classification policy:
// SPDX resolution patterns, restriction phrases, and the screening denylist.
//
// Policy content is data, not code. The default set is embedded via the
// enforcement subpackage; operators may substitute their own YAML file,
// which passes through the same compilation and validation.
package policy

import (
	"fmt"
	"os"

	"github.com/FoilMiser/Dataset-Collector-sub001/services/collector/policy/enforcement"
	"gopkg.in/yaml.v3"
)

// Set is a compiled, ready-to-evaluate policy.
//
// Thread Safety: Set is immutable after creation and safe for concurrent use.
type Set struct {
	file PolicyFile
}

// NewSet loads the embedded default policy.
//
// It unmarshals the embedded YAML, compiles all regex patterns, and sorts
// SPDX patterns by confidence. Returns an error if the embedded policy is
// malformed or contains an invalid regex.
func NewSet() (*Set, error) {
	return newSetFromBytes(enforcement.LicensePolicyPatterns)
}

// NewSetFromFile loads a policy from an operator-supplied YAML file.
func NewSetFromFile(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file %s: %w", path, err)
	}
	return newSetFromBytes(data)
}

func newSetFromBytes(data []byte) (*Set, error) {
	var file PolicyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the policy file: %w", err)
	}
	if len(file.SPDXPatterns) == 0 {
		return nil, fmt.Errorf("policy file declares no spdx_patterns")
	}
	if err := file.Compile(); err != nil {
		return nil, err
	}
	file.SortByConfidence()
	return &Set{file: file}, nil
}

// ResolveSPDX resolves a license identifier from free text.
//
// Patterns are evaluated from most to least specific; the first match wins,
// so the returned confidence is the highest available for this text.
// Matching is case-insensitive on word boundaries, never naive substring.
//
// Outputs:
//
//	string - The resolved SPDX identifier, empty if no pattern matched.
//	Confidence - The confidence of the winning pattern.
//	bool - True if a pattern matched.
func (s *Set) ResolveSPDX(text string) (string, Confidence, bool) {
	if text == "" {
		return "", "", false
	}
	for i := range s.file.SPDXPatterns {
		pat := &s.file.SPDXPatterns[i]
		if pat.compiled.MatchString(text) {
			return pat.ID, pat.Confidence, true
		}
	}
	return "", "", false
}

// ScanRestrictions returns every restriction phrase found in the text.
// Provenance tags each hit with the origin of the scanned text so the
// classifier's reason trail can distinguish profile hits from evidence hits.
func (s *Set) ScanRestrictions(text, provenance string) []PhraseHit {
	return scanPhrases(s.file.RestrictionPhrases, text, provenance)
}

// ScanDenylist returns every denylist phrase found in the text.
func (s *Set) ScanDenylist(text string) []PhraseHit {
	return scanPhrases(s.file.DenylistPhrases, text, "record")
}

func scanPhrases(phrases []Phrase, text, provenance string) []PhraseHit {
	if text == "" {
		return nil
	}
	var hits []PhraseHit
	for i := range phrases {
		ph := &phrases[i]
		if m := ph.compiled.FindString(text); m != "" {
			hits = append(hits, PhraseHit{
				PhraseID:   ph.ID,
				Matched:    m,
				Provenance: provenance,
			})
		}
	}
	return hits
}

// SPDXPatternCount reports how many SPDX patterns the set carries. Used by
// the CLI to log which policy was loaded.
func (s *Set) SPDXPatternCount() int {
	return len(s.file.SPDXPatterns)
}
