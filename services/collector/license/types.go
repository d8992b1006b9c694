// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package license

import (
	"fmt"

	"github.com/FoilMiser/Dataset-Collector-sub001/services/collector/config"
	"github.com/FoilMiser/Dataset-Collector-sub001/services/collector/policy"
)

// Bucket is the effective classification outcome for a target.
type Bucket string

const (
	BucketGreen  Bucket = "GREEN"
	BucketYellow Bucket = "YELLOW"
	BucketRed    Bucket = "RED"
)

// State is the per-target position in the review state machine. Only
// StateYellowApproved and StateGreen may proceed to merge.
type State string

const (
	StateUnclassified   State = "UNCLASSIFIED"
	StateRed            State = "RED"
	StateYellowPending  State = "YELLOW_PENDING"
	StateYellowApproved State = "YELLOW_APPROVED"
	StateGreen          State = "GREEN"
)

// MayProceed reports whether a target in this state may enter the merge
// stage.
func (s State) MayProceed() bool {
	return s == StateYellowApproved || s == StateGreen
}

// Gate names a rule toggled per target that participates in classifier
// precedence.
type Gate string

const (
	// GatePhraseScan downgrades on restriction-phrase hits.
	GatePhraseScan Gate = "phrase_scan"

	// GateManualReview requires an active signoff before promotion.
	GateManualReview Gate = "manual_review"

	// GateAutoPromote allows GREEN when resolution confidence meets the
	// threshold and the profile permits it.
	GateAutoPromote Gate = "auto_promote"

	// GateEvidenceRequired downgrades when evidence cannot be fetched or
	// extracted.
	GateEvidenceRequired Gate = "evidence_required"
)

// gateAliases maps legacy gate names onto their canonical spellings.
// Normalization runs before any precedence rule.
var gateAliases = map[string]Gate{
	"phrase_scan":       GatePhraseScan,
	"phrase-scan":       GatePhraseScan,
	"restriction_scan":  GatePhraseScan,
	"scan_restrictions": GatePhraseScan,
	"manual_review":     GateManualReview,
	"manual-review":     GateManualReview,
	"review_required":   GateManualReview,
	"auto_promote":      GateAutoPromote,
	"auto-promote":      GateAutoPromote,
	"promote":           GateAutoPromote,
	"evidence_required": GateEvidenceRequired,
	"evidence-required": GateEvidenceRequired,
	"require_evidence":  GateEvidenceRequired,
}

// NormalizeGates resolves legacy aliases and rejects unknown gate names.
// An unknown gate is a config error: the target terminates RED rather than
// running with a silently dropped rule.
func NormalizeGates(names []string) (map[Gate]bool, error) {
	gates := make(map[Gate]bool, len(names))
	for _, name := range names {
		g, ok := gateAliases[name]
		if !ok {
			return nil, fmt.Errorf("unknown gate %q", name)
		}
		gates[g] = true
	}
	return gates, nil
}

// Reason is one machine-readable step in the classifier's decision trail.
type Reason struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Reason codes carried in Result.Reasons and ledger entries.
const (
	ReasonConfigInvalid       = "config_invalid"
	ReasonProfileDeny         = "profile_deny"
	ReasonEvidenceUnavailable = "evidence_unavailable"
	ReasonEvidenceChanged     = "evidence_changed"
	ReasonRestrictionHit      = "restriction_phrase_hit"
	ReasonManualReview        = "manual_review_required"
	ReasonSignoffActive       = "signoff_active"
	ReasonAutoPromoted        = "auto_promoted"
	ReasonDefaultYellow       = "default_yellow"
)

// Result is the immutable outcome of classifying one target.
//
// Results are deterministic for identical inputs: no timestamps or run IDs
// live here, so re-classifying unchanged inputs yields an equal Result.
type Result struct {
	TargetID        string            `json:"target_id"`
	DeclaredProfile config.Profile    `json:"declared_profile"`
	ResolvedSPDX    string            `json:"resolved_spdx,omitempty"`
	Confidence      policy.Confidence `json:"confidence,omitempty"`

	RestrictionHits []policy.PhraseHit `json:"restriction_hits,omitempty"`

	// EvidenceSHA256 is the raw hash of the snapshot this decision was
	// made against; empty when evidence was unavailable.
	EvidenceSHA256  string `json:"evidence_sha256,omitempty"`
	EvidenceChanged bool   `json:"evidence_changed"`

	Bucket Bucket `json:"bucket"`
	State  State  `json:"state"`

	// Reasons is the ordered trail of every rule that fired, first match
	// deciding the bucket.
	Reasons []Reason `json:"reasons"`
}
