// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package license resolves a target's license identity and computes its
// effective bucket through an ordered, first-match-wins gate set. The
// classifier is conservative by default: malformed or missing evidence
// downgrades to YELLOW with a recorded reason, never a silent promotion
// and never a thrown error.
package license

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/FoilMiser/Dataset-Collector-sub001/services/collector/config"
	"github.com/FoilMiser/Dataset-Collector-sub001/services/collector/evidence"
	"github.com/FoilMiser/Dataset-Collector-sub001/services/collector/policy"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("collector.license")

// autoPromotable profiles may reach GREEN without human review when the
// auto_promote gate is enabled and resolution confidence meets the
// threshold.
var autoPromotable = map[config.Profile]bool{
	config.ProfilePermissive:   true,
	config.ProfilePublicDomain: true,
	config.ProfileRecordLevel:  true,
}

// Classifier computes effective buckets for targets.
//
// Thread Safety: safe for concurrent use.
type Classifier struct {
	policy    *policy.Set
	threshold policy.Confidence
	logger    *slog.Logger
}

// NewClassifier creates a Classifier. threshold is the minimum SPDX
// resolution confidence for auto-promotion.
func NewClassifier(set *policy.Set, threshold policy.Confidence, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{policy: set, threshold: threshold, logger: logger}
}

// Classify computes the effective bucket and review state for one target.
//
// Inputs:
//
//	target - The target under classification.
//	ev - The evidence fetch outcome. Nil is treated as unavailable.
//	signoff - The current stored signoff, or nil.
//
// Outputs:
//
//	*Result - Always non-nil. Never panics on malformed evidence;
//	          indeterminate inputs resolve to YELLOW with a reason.
func (c *Classifier) Classify(ctx context.Context, target config.Target, ev *evidence.Outcome, signoff *Signoff) *Result {
	_, span := tracer.Start(ctx, "license.classify")
	span.SetAttributes(attribute.String("target.id", target.ID))
	defer span.End()

	res := &Result{
		TargetID:        target.ID,
		DeclaredProfile: target.Profile,
	}

	gates, err := NormalizeGates(target.Gates)
	if err != nil {
		res.Bucket = BucketRed
		res.State = StateRed
		res.Reasons = append(res.Reasons, Reason{
			Code:    ReasonConfigInvalid,
			Message: err.Error(),
		})
		span.SetAttributes(attribute.String("bucket", string(res.Bucket)))
		return res
	}

	var snap *evidence.Snapshot
	evidenceUnavailable := ev == nil || ev.Unavailable
	if !evidenceUnavailable {
		snap = ev.Snapshot
		res.EvidenceSHA256 = snap.RawSHA256
		res.EvidenceChanged = snap.ChangedFromPrevious
	}

	c.resolve(res, target, snap)
	c.scanRestrictions(res, target, snap)

	signoffActive := signoff.IsActive(res.EvidenceSHA256)

	// Ordered gate rules, first match wins.
	switch {
	case target.Profile == config.ProfileDeny:
		res.Bucket = BucketRed
		res.addReason(ReasonProfileDeny, "declared profile maps to deny")

	case gates[GateEvidenceRequired] && evidenceUnavailable:
		res.Bucket = BucketYellow
		reason := "unknown"
		if ev != nil {
			reason = ev.Reason
		}
		res.addReason(ReasonEvidenceUnavailable,
			fmt.Sprintf("evidence required but unavailable: %s", reason))

	case res.EvidenceChanged:
		res.Bucket = BucketYellow
		res.addReason(ReasonEvidenceChanged,
			"evidence content changed since last snapshot; re-review required")

	case gates[GatePhraseScan] && len(res.RestrictionHits) > 0:
		res.Bucket = BucketYellow
		res.addReason(ReasonRestrictionHit,
			fmt.Sprintf("%d restriction phrase hit(s), first: %s",
				len(res.RestrictionHits), res.RestrictionHits[0].PhraseID))

	case gates[GateManualReview] && !signoffActive:
		res.Bucket = BucketYellow
		res.addReason(ReasonManualReview, "manual review gate enabled and no active signoff")

	case gates[GateAutoPromote] && autoPromotable[target.Profile] &&
		res.Confidence.AtLeast(c.threshold) && res.ResolvedSPDX != "":
		res.Bucket = BucketGreen
		res.addReason(ReasonAutoPromoted,
			fmt.Sprintf("resolved %s at %s confidence", res.ResolvedSPDX, res.Confidence))

	default:
		res.Bucket = BucketYellow
		res.addReason(ReasonDefaultYellow, "no promotion rule matched; conservative default")
	}

	if signoffActive {
		res.addReason(ReasonSignoffActive,
			fmt.Sprintf("signoff by %s bound to current evidence", signoff.Reviewer))
	}

	res.State = deriveState(res, signoffActive)

	c.logger.Info("target classified",
		slog.String("target_id", target.ID),
		slog.String("bucket", string(res.Bucket)),
		slog.String("state", string(res.State)),
		slog.String("first_reason", res.Reasons[0].Code),
	)
	span.SetAttributes(
		attribute.String("bucket", string(res.Bucket)),
		attribute.String("state", string(res.State)),
	)
	return res
}

// resolve fills ResolvedSPDX and Confidence from the declared hint first,
// falling back to evidence text. The hint is itself pattern-matched, never
// trusted verbatim.
func (c *Classifier) resolve(res *Result, target config.Target, snap *evidence.Snapshot) {
	if target.SPDXHint != "" {
		if id, conf, ok := c.policy.ResolveSPDX(target.SPDXHint); ok {
			res.ResolvedSPDX = id
			res.Confidence = conf
		}
	}
	if snap == nil {
		return
	}
	id, conf, ok := c.policy.ResolveSPDX(snap.Text)
	if !ok {
		return
	}
	// Evidence wins when it is at least as specific as the hint.
	if conf.Ordinal() >= res.Confidence.Ordinal() {
		res.ResolvedSPDX = id
		res.Confidence = conf
	}
}

// scanRestrictions collects restriction hits from both the declared hint
// and the evidence text, with provenance.
func (c *Classifier) scanRestrictions(res *Result, target config.Target, snap *evidence.Snapshot) {
	res.RestrictionHits = append(res.RestrictionHits,
		c.policy.ScanRestrictions(target.SPDXHint, "profile")...)
	if snap != nil {
		res.RestrictionHits = append(res.RestrictionHits,
			c.policy.ScanRestrictions(snap.Text, "evidence")...)
	}
}

// deriveState maps a bucket onto the review state machine. A YELLOW target
// with an active signoff (and no pending evidence change) is approved; any
// drift sends it back to pending.
func deriveState(res *Result, signoffActive bool) State {
	switch res.Bucket {
	case BucketRed:
		return StateRed
	case BucketGreen:
		return StateGreen
	default:
		if signoffActive && !res.EvidenceChanged {
			return StateYellowApproved
		}
		return StateYellowPending
	}
}

func (r *Result) addReason(code, message string) {
	r.Reasons = append(r.Reasons, Reason{Code: code, Message: message})
}
