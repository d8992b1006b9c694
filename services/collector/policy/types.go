// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package policy

import (
	"fmt"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

// Confidence expresses how specifically a pattern identifies a license.
type Confidence string

const (
	Low    Confidence = "low"
	Medium Confidence = "medium"
	High   Confidence = "high"
)

// Ordinal returns the rank of a confidence level for threshold comparison.
// Higher is more specific. Unknown levels rank below Low.
func (c Confidence) Ordinal() int {
	switch c {
	case High:
		return 3
	case Medium:
		return 2
	case Low:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether c meets or exceeds the threshold level.
func (c Confidence) AtLeast(threshold Confidence) bool {
	return c.Ordinal() >= threshold.Ordinal()
}

func (c *Confidence) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	incoming := Confidence(s)
	switch incoming {
	case High, Medium, Low:
		*c = incoming
		return nil
	default:
		return fmt.Errorf("invalid value for Confidence: %q", incoming)
	}
}

// PolicyFile is the on-disk (and embedded) shape of a classification policy.
type PolicyFile struct {
	SPDXPatterns       []SPDXPattern `yaml:"spdx_patterns"`
	RestrictionPhrases []Phrase      `yaml:"restriction_phrases"`
	DenylistPhrases    []Phrase      `yaml:"denylist_phrases"`
}

// SPDXPattern maps a regular expression to an SPDX identifier at a given
// confidence level.
type SPDXPattern struct {
	ID          string     `yaml:"id"`
	Description string     `yaml:"description"`
	Regex       string     `yaml:"regex"`
	Confidence  Confidence `yaml:"confidence"`

	compiled *regexp.Regexp `yaml:"-"`
}

// Phrase is a literal phrase matched on word boundaries. Used for both
// restriction scanning (classifier) and denylist scanning (screening).
type Phrase struct {
	ID          string `yaml:"id"`
	Text        string `yaml:"text"`
	Description string `yaml:"description"`

	compiled *regexp.Regexp `yaml:"-"`
}

// Compile compiles every pattern in the file. SPDX regexes are wrapped with
// case-insensitive word-boundary anchors so that "MIT" never matches inside
// "transmitted"; phrase text is quoted literally with flexible whitespace.
func (p *PolicyFile) Compile() error {
	for i := range p.SPDXPatterns {
		pat := &p.SPDXPatterns[i]
		re, err := regexp.Compile(`(?i)\b(?:` + pat.Regex + `)\b`)
		if err != nil {
			return fmt.Errorf("failed to compile the spdx pattern %s: %w", pat.ID, err)
		}
		pat.compiled = re
	}
	for i := range p.RestrictionPhrases {
		if err := p.RestrictionPhrases[i].compile(); err != nil {
			return err
		}
	}
	for i := range p.DenylistPhrases {
		if err := p.DenylistPhrases[i].compile(); err != nil {
			return err
		}
	}
	return nil
}

func (ph *Phrase) compile() error {
	quoted := regexp.QuoteMeta(ph.Text)
	// Collapse literal spaces to flexible whitespace so line wraps still match.
	flexible := regexp.MustCompile(`(?:\\ |\s)+`).ReplaceAllString(quoted, `\s+`)
	re, err := regexp.Compile(`(?i)\b` + flexible + `\b`)
	if err != nil {
		return fmt.Errorf("failed to compile the phrase %s: %w", ph.ID, err)
	}
	ph.compiled = re
	return nil
}

// SortByConfidence orders SPDX patterns from most to least specific so the
// first match during resolution is also the most confident one.
func (p *PolicyFile) SortByConfidence() {
	sort.SliceStable(p.SPDXPatterns, func(i, j int) bool {
		return p.SPDXPatterns[i].Confidence.Ordinal() > p.SPDXPatterns[j].Confidence.Ordinal()
	})
}

// PhraseHit records a matched phrase together with the text that matched it.
type PhraseHit struct {
	PhraseID string `json:"phrase_id"`
	Matched  string `json:"matched"`
	// Provenance says where the hit came from: "profile" or "evidence".
	Provenance string `json:"provenance"`
}
