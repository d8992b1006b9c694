// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package evidence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_PutAndCurrent(t *testing.T) {
	store := newTestStore(t)

	snap := &Snapshot{
		TargetID:  "t1",
		SourceURL: "https://example.org/license",
		FetchedAt: time.Now().UTC(),
		Raw:       []byte("raw bytes"),
		Text:      "raw bytes",
		RawSHA256: "aa11", TextSHA256: "bb22",
	}
	require.NoError(t, store.Put(snap))

	got, err := store.Current("t1")
	require.NoError(t, err)
	assert.Equal(t, "aa11", got.RawSHA256)
	assert.Equal(t, []byte("raw bytes"), got.Raw)

	sha, ok := store.LastRawSHA256("t1")
	require.True(t, ok)
	assert.Equal(t, "aa11", sha)
}

func TestStore_AppendOnlyHistory(t *testing.T) {
	store := newTestStore(t)

	first := &Snapshot{
		TargetID: "t1", FetchedAt: time.UnixMilli(1000).UTC(),
		Raw: []byte("one"), RawSHA256: "h1",
	}
	second := &Snapshot{
		TargetID: "t1", FetchedAt: time.UnixMilli(2000).UTC(),
		Raw: []byte("two"), RawSHA256: "h2",
	}
	require.NoError(t, store.Put(first))
	require.NoError(t, store.Put(second))

	cur, err := store.Current("t1")
	require.NoError(t, err)
	assert.Equal(t, "h2", cur.RawSHA256)

	history, err := store.History("t1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "evidence-1000.json", history[0])
}

func TestStore_RejectsEmptyTargetID(t *testing.T) {
	store := newTestStore(t)
	assert.Error(t, store.Put(&Snapshot{}))
	assert.Error(t, store.Put(nil))
}

func TestStore_LastRawSHA256_MissingTarget(t *testing.T) {
	store := newTestStore(t)
	_, ok := store.LastRawSHA256("ghost")
	assert.False(t, ok)
}
