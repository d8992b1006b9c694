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
	"context"
	"testing"

	"github.com/FoilMiser/Dataset-Collector-sub001/services/collector/config"
	"github.com/FoilMiser/Dataset-Collector-sub001/services/collector/evidence"
	"github.com/FoilMiser/Dataset-Collector-sub001/services/collector/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClassifier(t *testing.T) *Classifier {
	t.Helper()
	set, err := policy.NewSet()
	require.NoError(t, err)
	return NewClassifier(set, policy.Medium, nil)
}

func snapshotOutcome(text, sha string, changed bool) *evidence.Outcome {
	return &evidence.Outcome{
		Snapshot: &evidence.Snapshot{
			TargetID:            "t1",
			Text:                text,
			RawSHA256:           sha,
			ChangedFromPrevious: changed,
		},
	}
}

func permissiveTarget(gates ...string) config.Target {
	return config.Target{
		ID:      "t1",
		Profile: config.ProfilePermissive,
		Gates:   gates,
	}
}

// Scenario: permissive profile, evidence contains only an exact SPDX tag,
// no restriction hits, auto-promotion gate enabled.
func TestClassify_AutoPromoteGreen(t *testing.T) {
	c := newTestClassifier(t)
	ev := snapshotOutcome("Data released under CC-BY-4.0.", "abc123", false)

	res := c.Classify(context.Background(), permissiveTarget("phrase_scan", "auto_promote"), ev, nil)

	assert.Equal(t, BucketGreen, res.Bucket)
	assert.Equal(t, StateGreen, res.State)
	assert.Equal(t, "CC-BY-4.0", res.ResolvedSPDX)
	assert.Equal(t, policy.High, res.Confidence)
	require.NotEmpty(t, res.Reasons)
	assert.Equal(t, ReasonAutoPromoted, res.Reasons[0].Code)
}

// Scenario: same as above plus a restriction phrase in the evidence with
// the phrase-scan gate enabled.
func TestClassify_RestrictionPhraseForcesYellow(t *testing.T) {
	c := newTestClassifier(t)
	ev := snapshotOutcome(
		"Data released under CC-BY-4.0. No machine learning training permitted.",
		"abc123", false)

	res := c.Classify(context.Background(), permissiveTarget("phrase_scan", "auto_promote"), ev, nil)

	assert.Equal(t, BucketYellow, res.Bucket)
	assert.Equal(t, StateYellowPending, res.State)
	assert.Equal(t, ReasonRestrictionHit, res.Reasons[0].Code)
	require.NotEmpty(t, res.RestrictionHits)
	assert.Equal(t, "evidence", res.RestrictionHits[0].Provenance)
}

// Scenario: prior GREEN with a signoff bound to abc123; new fetch yields a
// different hash. Forced back to YELLOW_PENDING, reason evidence_changed.
func TestClassify_EvidenceChangeForcesPending(t *testing.T) {
	c := newTestClassifier(t)
	signoff := &Signoff{Reviewer: "rev1", Decision: "approve", BoundSHA256: "abc123"}
	ev := snapshotOutcome("Data released under CC-BY-4.0.", "def456", true)

	res := c.Classify(context.Background(),
		permissiveTarget("manual_review", "auto_promote"), ev, signoff)

	assert.Equal(t, BucketYellow, res.Bucket)
	assert.Equal(t, StateYellowPending, res.State)
	assert.Equal(t, ReasonEvidenceChanged, res.Reasons[0].Code)
}

func TestClassify_DenyProfileIsRed(t *testing.T) {
	c := newTestClassifier(t)
	target := config.Target{ID: "t1", Profile: config.ProfileDeny}

	res := c.Classify(context.Background(), target,
		snapshotOutcome("MIT", "abc", false), nil)

	assert.Equal(t, BucketRed, res.Bucket)
	assert.Equal(t, StateRed, res.State)
	assert.Equal(t, ReasonProfileDeny, res.Reasons[0].Code)
	assert.False(t, res.State.MayProceed())
}

func TestClassify_EvidenceRequiredButUnavailable(t *testing.T) {
	c := newTestClassifier(t)
	target := permissiveTarget("evidence_required", "auto_promote")

	t.Run("unavailable outcome", func(t *testing.T) {
		ev := &evidence.Outcome{Unavailable: true, Reason: evidence.ReasonFetchFailed}
		res := c.Classify(context.Background(), target, ev, nil)
		assert.Equal(t, BucketYellow, res.Bucket)
		assert.Equal(t, ReasonEvidenceUnavailable, res.Reasons[0].Code)
	})

	t.Run("nil outcome treated as unavailable", func(t *testing.T) {
		res := c.Classify(context.Background(), target, nil, nil)
		assert.Equal(t, BucketYellow, res.Bucket)
		assert.Equal(t, ReasonEvidenceUnavailable, res.Reasons[0].Code)
	})
}

func TestClassify_ManualReviewGate(t *testing.T) {
	c := newTestClassifier(t)
	target := permissiveTarget("manual_review", "auto_promote")
	ev := snapshotOutcome("Released under MIT.", "abc123", false)

	t.Run("no signoff stays pending", func(t *testing.T) {
		res := c.Classify(context.Background(), target, ev, nil)
		assert.Equal(t, BucketYellow, res.Bucket)
		assert.Equal(t, StateYellowPending, res.State)
		assert.Equal(t, ReasonManualReview, res.Reasons[0].Code)
	})

	t.Run("active signoff approves", func(t *testing.T) {
		signoff := &Signoff{Reviewer: "rev1", Decision: "approve", BoundSHA256: "abc123"}
		res := c.Classify(context.Background(), target, ev, signoff)
		// Manual review gate satisfied; auto_promote fires.
		assert.Equal(t, BucketGreen, res.Bucket)
		assert.Equal(t, StateGreen, res.State)
	})

	t.Run("stale signoff stays pending", func(t *testing.T) {
		signoff := &Signoff{Reviewer: "rev1", Decision: "approve", BoundSHA256: "other"}
		res := c.Classify(context.Background(), target, ev, signoff)
		assert.Equal(t, BucketYellow, res.Bucket)
		assert.Equal(t, StateYellowPending, res.State)
	})

	t.Run("rejection is not an approval", func(t *testing.T) {
		signoff := &Signoff{Reviewer: "rev1", Decision: "reject", BoundSHA256: "abc123"}
		res := c.Classify(context.Background(), target, ev, signoff)
		assert.Equal(t, BucketYellow, res.Bucket)
	})
}

func TestClassify_ConservativeDefaults(t *testing.T) {
	c := newTestClassifier(t)

	t.Run("no gates no resolution stays yellow", func(t *testing.T) {
		res := c.Classify(context.Background(), permissiveTarget(),
			snapshotOutcome("some unrelated text", "abc", false), nil)
		assert.Equal(t, BucketYellow, res.Bucket)
		assert.Equal(t, ReasonDefaultYellow, res.Reasons[0].Code)
	})

	t.Run("low confidence below threshold stays yellow", func(t *testing.T) {
		res := c.Classify(context.Background(), permissiveTarget("auto_promote"),
			snapshotOutcome("permission is hereby granted, free of charge", "abc", false), nil)
		assert.Equal(t, policy.Low, res.Confidence)
		assert.Equal(t, BucketYellow, res.Bucket)
	})

	t.Run("copyleft profile never auto-promotes", func(t *testing.T) {
		target := config.Target{ID: "t1", Profile: config.ProfileCopyleft,
			Gates: []string{"auto_promote"}}
		res := c.Classify(context.Background(), target,
			snapshotOutcome("GPL-3.0-only", "abc", false), nil)
		assert.Equal(t, BucketYellow, res.Bucket)
	})
}

func TestClassify_UnknownGateIsConfigInvalid(t *testing.T) {
	c := newTestClassifier(t)
	res := c.Classify(context.Background(), permissiveTarget("turbo_mode"),
		snapshotOutcome("MIT", "abc", false), nil)

	assert.Equal(t, BucketRed, res.Bucket)
	assert.Equal(t, StateRed, res.State)
	assert.Equal(t, ReasonConfigInvalid, res.Reasons[0].Code)
}

func TestClassify_LegacyGateAliases(t *testing.T) {
	c := newTestClassifier(t)
	ev := snapshotOutcome("CC-BY-4.0, no machine learning training permitted", "abc", false)

	// Legacy spellings normalize to phrase_scan and still fire.
	res := c.Classify(context.Background(),
		permissiveTarget("restriction_scan", "auto-promote"), ev, nil)
	assert.Equal(t, BucketYellow, res.Bucket)
	assert.Equal(t, ReasonRestrictionHit, res.Reasons[0].Code)
}

func TestClassify_Idempotent(t *testing.T) {
	c := newTestClassifier(t)
	target := permissiveTarget("phrase_scan", "auto_promote")
	ev := snapshotOutcome("Data released under CC-BY-4.0.", "abc123", false)

	first := c.Classify(context.Background(), target, ev, nil)
	second := c.Classify(context.Background(), target, ev, nil)
	assert.Equal(t, first, second)
}

func TestClassify_HintResolution(t *testing.T) {
	c := newTestClassifier(t)

	t.Run("hint resolves without evidence", func(t *testing.T) {
		target := permissiveTarget("auto_promote")
		target.SPDXHint = "Apache-2.0"
		res := c.Classify(context.Background(), target, nil, nil)
		assert.Equal(t, "Apache-2.0", res.ResolvedSPDX)
		assert.Equal(t, policy.High, res.Confidence)
		assert.Equal(t, BucketGreen, res.Bucket)
	})

	t.Run("more specific evidence wins over hint", func(t *testing.T) {
		target := permissiveTarget()
		target.SPDXHint = "permission is hereby granted, free of charge"
		res := c.Classify(context.Background(), target,
			snapshotOutcome("Apache-2.0", "abc", false), nil)
		assert.Equal(t, "Apache-2.0", res.ResolvedSPDX)
		assert.Equal(t, policy.High, res.Confidence)
	})
}
