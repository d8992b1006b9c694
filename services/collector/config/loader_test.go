// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `
output_dir: /tmp/corpus
targets:
  - id: wiki-abstracts
    enabled: true
    profile: permissive
    spdx_hint: CC-BY-4.0
    evidence_url: https://example.org/license
    gates: [phrase_scan, auto_promote]
    acquisition:
      strategy: http
      url: https://example.org/dump.jsonl
`

func TestParse_ValidConfig(t *testing.T) {
	cfg, err := Parse([]byte(validConfig))
	require.NoError(t, err)

	require.Len(t, cfg.Targets, 1)
	tgt := cfg.Targets[0]
	assert.Equal(t, "wiki-abstracts", tgt.ID)
	assert.Equal(t, ProfilePermissive, tgt.Profile)

	// Defaults applied.
	assert.Equal(t, []string{"text", "content", "body"}, tgt.Screening.Selectors)
	assert.Equal(t, 8, cfg.Acquire.Workers)
	assert.Equal(t, "medium", cfg.Classifier.ConfidenceThreshold)
	assert.Equal(t, "drop", cfg.Dedup.NearDupPolicy)

	// Resolver key derived from URL host.
	assert.Equal(t, "example.org", tgt.Acquisition.ResolverKey)
}

func TestParse_UnknownFieldFails(t *testing.T) {
	bad := validConfig + "\nunknwon_field: true\n"
	_, err := Parse([]byte(bad))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfigInvalid))
}

func TestParse_InvalidProfileFails(t *testing.T) {
	bad := `
output_dir: /tmp/corpus
targets:
  - id: t1
    enabled: true
    profile: freeware
    acquisition:
      strategy: http
`
	_, err := Parse([]byte(bad))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfigInvalid))
}

func TestParse_DuplicateTargetIDFails(t *testing.T) {
	bad := `
output_dir: /tmp/corpus
targets:
  - id: t1
    enabled: true
    profile: permissive
    acquisition: {strategy: http}
  - id: t1
    enabled: true
    profile: copyleft
    acquisition: {strategy: http}
`
	_, err := Parse([]byte(bad))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfigInvalid))
}

func TestParse_MissingStrategyFails(t *testing.T) {
	bad := `
output_dir: /tmp/corpus
targets:
  - id: t1
    enabled: true
    profile: permissive
    acquisition: {}
`
	_, err := Parse([]byte(bad))
	assert.Error(t, err)
}

func TestParse_BadChecksumLengthFails(t *testing.T) {
	bad := `
output_dir: /tmp/corpus
targets:
  - id: t1
    enabled: true
    profile: permissive
    acquisition:
      strategy: http
      expected_sha256: abc123
`
	_, err := Parse([]byte(bad))
	assert.Error(t, err)
}

func TestEnabledTargets(t *testing.T) {
	cfg, err := Parse([]byte(`
output_dir: /tmp/corpus
targets:
  - id: on
    enabled: true
    profile: permissive
    acquisition: {strategy: http}
  - id: off
    enabled: false
    profile: permissive
    acquisition: {strategy: http}
`))
	require.NoError(t, err)
	enabled := cfg.EnabledTargets()
	require.Len(t, enabled, 1)
	assert.Equal(t, "on", enabled[0].ID)
}
