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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBinder(t *testing.T) *Binder {
	t.Helper()
	root := t.TempDir()
	return NewBinder(func(targetID string) string {
		return filepath.Join(root, "_manifests", targetID)
	})
}

func TestBinder_BindAndLoad(t *testing.T) {
	b := newTestBinder(t)

	err := b.Bind("t1", Signoff{Reviewer: "rev1", Decision: "approve"}, "abc123")
	require.NoError(t, err)

	got, err := b.Load("t1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "rev1", got.Reviewer)
	assert.Equal(t, "abc123", got.BoundSHA256)
	assert.False(t, got.Timestamp.IsZero())
	assert.True(t, got.IsActive("abc123"))
}

func TestBinder_LoadMissingIsNil(t *testing.T) {
	b := newTestBinder(t)
	got, err := b.Load("ghost")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestBinder_BindValidation(t *testing.T) {
	b := newTestBinder(t)
	assert.Error(t, b.Bind("", Signoff{Decision: "approve"}, "abc"))
	assert.Error(t, b.Bind("t1", Signoff{Decision: "approve"}, ""))
}

func TestBinder_RebindOverwritesAtomically(t *testing.T) {
	b := newTestBinder(t)
	require.NoError(t, b.Bind("t1", Signoff{Reviewer: "rev1", Decision: "approve"}, "h1"))
	require.NoError(t, b.Bind("t1", Signoff{Reviewer: "rev2", Decision: "approve"}, "h2"))

	got, err := b.Load("t1")
	require.NoError(t, err)
	assert.Equal(t, "rev2", got.Reviewer)
	assert.Equal(t, "h2", got.BoundSHA256)

	// No temp files left behind after successful binds.
	entries, err := os.ReadDir(filepath.Dir(signoffPath(b, "t1")))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".signoff-"),
			"leftover temp file %s", e.Name())
	}
}

func signoffPath(b *Binder, targetID string) string {
	return filepath.Join(b.manifestDir(targetID), signoffFileName)
}

// A signoff approves exactly one evidence hash. Any drift makes it stale
// without touching the stored file.
func TestSignoff_IsActive(t *testing.T) {
	s := &Signoff{Reviewer: "rev1", Decision: "approve", BoundSHA256: "h1"}

	assert.True(t, s.IsActive("h1"))
	assert.False(t, s.IsActive("h2"))
	assert.False(t, s.IsActive(""))

	var nilSignoff *Signoff
	assert.False(t, nilSignoff.IsActive("h1"))

	rejected := &Signoff{Reviewer: "rev1", Decision: "reject", BoundSHA256: "h1"}
	assert.False(t, rejected.IsActive("h1"))
}
