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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSet_EmbeddedPolicyLoads(t *testing.T) {
	set, err := NewSet()
	require.NoError(t, err)
	assert.Greater(t, set.SPDXPatternCount(), 0)
}

func TestResolveSPDX(t *testing.T) {
	set, err := NewSet()
	require.NoError(t, err)

	tests := []struct {
		name       string
		text       string
		wantID     string
		wantConf   Confidence
		wantMatch  bool
	}{
		{
			name:      "exact tag is high confidence",
			text:      "This dataset is released under CC-BY-4.0 terms.",
			wantID:    "CC-BY-4.0",
			wantConf:  High,
			wantMatch: true,
		},
		{
			name:      "long-form name is medium confidence",
			text:      "Licensed under the Apache License, Version 2.0.",
			wantID:    "Apache-2.0",
			wantConf:  Medium,
			wantMatch: true,
		},
		{
			name:      "grant heuristic is low confidence",
			text:      "permission is hereby granted, free of charge, to any person",
			wantID:    "MIT",
			wantConf:  Low,
			wantMatch: true,
		},
		{
			name:      "word boundary prevents substring match",
			text:      "the signal was transmitted at noon",
			wantMatch: false,
		},
		{
			name:      "empty text never matches",
			text:      "",
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, conf, ok := set.ResolveSPDX(tt.text)
			assert.Equal(t, tt.wantMatch, ok)
			if tt.wantMatch {
				assert.Equal(t, tt.wantID, id)
				assert.Equal(t, tt.wantConf, conf)
			}
		})
	}
}

func TestResolveSPDX_HighestConfidenceWins(t *testing.T) {
	set, err := NewSet()
	require.NoError(t, err)

	// Text contains both the exact tag and the low-confidence grant phrase.
	text := "MIT. Permission is hereby granted, free of charge."
	id, conf, ok := set.ResolveSPDX(text)
	require.True(t, ok)
	assert.Equal(t, "MIT", id)
	assert.Equal(t, High, conf)
}

func TestScanRestrictions(t *testing.T) {
	set, err := NewSet()
	require.NoError(t, err)

	hits := set.ScanRestrictions(
		"Use freely, but no machine   learning training permitted here.", "evidence")
	require.Len(t, hits, 1)
	assert.Equal(t, "no-ml-training", hits[0].PhraseID)
	assert.Equal(t, "evidence", hits[0].Provenance)

	assert.Empty(t, set.ScanRestrictions("plain permissive text", "evidence"))
}

func TestScanDenylist(t *testing.T) {
	set, err := NewSet()
	require.NoError(t, err)

	hits := set.ScanDenylist("Error: Page Not Found")
	require.Len(t, hits, 1)
	assert.Equal(t, "error-404", hits[0].PhraseID)
}

func TestConfidenceOrdering(t *testing.T) {
	assert.True(t, High.AtLeast(Medium))
	assert.True(t, Medium.AtLeast(Medium))
	assert.False(t, Low.AtLeast(Medium))
	assert.False(t, Confidence("bogus").AtLeast(Low))
}

func TestNewSetFromFile(t *testing.T) {
	t.Run("valid custom policy", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "policy.yaml")
		body := `
spdx_patterns:
  - id: "MIT"
    regex: "MIT"
    confidence: high
restriction_phrases: []
denylist_phrases: []
`
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		set, err := NewSetFromFile(path)
		require.NoError(t, err)
		assert.Equal(t, 1, set.SPDXPatternCount())
	})

	t.Run("invalid confidence rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "policy.yaml")
		body := `
spdx_patterns:
  - id: "MIT"
    regex: "MIT"
    confidence: certain
`
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		_, err := NewSetFromFile(path)
		assert.Error(t, err)
	})

	t.Run("empty pattern list rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "policy.yaml")
		require.NoError(t, os.WriteFile(path, []byte("spdx_patterns: []"), 0o644))
		_, err := NewSetFromFile(path)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := NewSetFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}
