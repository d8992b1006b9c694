// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dedup

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/FoilMiser/Dataset-Collector-sub001/services/collector/config"
	"github.com/FoilMiser/Dataset-Collector-sub001/services/collector/screen"
	"github.com/FoilMiser/Dataset-Collector-sub001/services/collector/shard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMerger(t *testing.T, cfg MergeConfig) (*Merger, string) {
	t.Helper()
	root := t.TempDir()
	ledger, err := shard.OpenLedger(filepath.Join(root, "_ledger"), "merge")
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	newWriter := func(pool Pool) (*shard.Writer, error) {
		return shard.NewWriter(filepath.Join(root, "combined", string(pool), "shards"),
			shard.Config{MaxRecords: 100})
	}
	return NewMerger(NewMemIndex(), ledger, newWriter, cfg, nil), root
}

func record(targetID, recordID, pool, text string) *screen.CanonicalRecord {
	sum := sha256.Sum256([]byte(text))
	return &screen.CanonicalRecord{
		RecordID:      recordID,
		Text:          text,
		Provenance:    screen.Provenance{TargetID: targetID},
		License:       screen.License{Pool: pool},
		ContentSHA256: hex.EncodeToString(sum[:]),
	}
}

func runMerge(t *testing.T, m *Merger, records ...*screen.CanonicalRecord) *Stats {
	t.Helper()
	ch := make(chan *screen.CanonicalRecord, len(records))
	for _, r := range records {
		ch <- r
	}
	close(ch)
	stats, err := m.Merge(context.Background(), ch)
	require.NoError(t, err)
	return stats
}

func readLedgerEvents(t *testing.T, root string) []Event {
	t.Helper()
	f, err := os.Open(filepath.Join(root, "_ledger", "merge.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		events = append(events, e)
	}
	require.NoError(t, scanner.Err())
	return events
}

// Two targets producing identical normalized text: the second is dropped
// and the ledger names the first record as owner.
func TestMerger_ExactDuplicateDropped(t *testing.T) {
	m, root := testMerger(t, MergeConfig{})

	text := "identical normalized text from two different targets"
	stats := runMerge(t, m,
		record("t1", "rec-1", "permissive", text),
		record("t2", "rec-2", "permissive", text),
	)

	assert.Equal(t, 1, stats.Merged)
	assert.Equal(t, 1, stats.ExactDups)

	events := readLedgerEvents(t, root)
	require.Len(t, events, 2)
	assert.Equal(t, "merged", events[0].Event)
	assert.Equal(t, "duplicate", events[1].Event)
	assert.Equal(t, "duplicate_of:rec-1", events[1].DuplicateOf)
}

// No shard mixes records from two license pools.
func TestMerger_PoolIsolation(t *testing.T) {
	m, root := testMerger(t, MergeConfig{})

	stats := runMerge(t, m,
		record("t1", "r1", "permissive", "permissive text one"),
		record("t2", "r2", "copyleft", "copyleft text one"),
		record("t3", "r3", "permissive", "permissive text two"),
	)
	assert.Equal(t, 3, stats.Merged)
	assert.Equal(t, 2, stats.PerPool[PoolPermissive])
	assert.Equal(t, 1, stats.PerPool[PoolCopyleft])
	require.Len(t, stats.Shards, 2)

	for _, shardPath := range stats.Shards {
		pool := poolOfShardPath(t, root, shardPath)
		f, err := os.Open(shardPath)
		require.NoError(t, err)
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			var rec screen.CanonicalRecord
			require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
			assert.Equal(t, pool, rec.License.Pool, "record pool must match shard pool")
		}
		f.Close()
	}
}

func poolOfShardPath(t *testing.T, root, shardPath string) string {
	t.Helper()
	rel, err := filepath.Rel(filepath.Join(root, "combined"), shardPath)
	require.NoError(t, err)
	return strings.Split(rel, string(filepath.Separator))[0]
}

func TestMerger_UnknownPoolQuarantined(t *testing.T) {
	m, _ := testMerger(t, MergeConfig{})
	stats := runMerge(t, m, record("t1", "r1", "mystery", "text with an unknown pool"))
	assert.Equal(t, 1, stats.PerPool[PoolQuarantine])
}

func TestMerger_NearDuplicates(t *testing.T) {
	base := "license compliance requires careful review of every source document " +
		"before it can be admitted into the training corpus for distribution"
	variant := base + " worldwide"

	t.Run("drop policy rejects", func(t *testing.T) {
		m, root := testMerger(t, MergeConfig{
			NearDup: true, Policy: PolicyDrop,
			SimilarityThreshold: 0.5, ShingleSize: 4, NumHashFuncs: 128, NumBands: 32,
		})
		stats := runMerge(t, m,
			record("t1", "r1", "permissive", base),
			record("t2", "r2", "permissive", variant),
		)
		assert.Equal(t, 1, stats.Merged)
		assert.Equal(t, 1, stats.NearDups)

		events := readLedgerEvents(t, root)
		require.Len(t, events, 2)
		assert.Equal(t, "near_duplicate_dropped", events[1].Event)
		assert.Equal(t, "r1", events[1].SimilarTo)
		assert.GreaterOrEqual(t, events[1].Similarity, 0.5)
	})

	t.Run("log_only keeps", func(t *testing.T) {
		m, root := testMerger(t, MergeConfig{
			NearDup: true, Policy: PolicyLogOnly,
			SimilarityThreshold: 0.5, ShingleSize: 4, NumHashFuncs: 128, NumBands: 32,
		})
		stats := runMerge(t, m,
			record("t1", "r1", "permissive", base),
			record("t2", "r2", "permissive", variant),
		)
		assert.Equal(t, 2, stats.Merged)
		assert.Equal(t, 1, stats.NearDups)

		events := readLedgerEvents(t, root)
		require.Len(t, events, 3)
		assert.Equal(t, "near_duplicate_kept", events[1].Event)
		assert.Equal(t, "merged", events[2].Event)
	})
}

// For all kept records, content hashes are unique across the merged
// output.
func TestMerger_DedupProperty(t *testing.T) {
	m, _ := testMerger(t, MergeConfig{})

	var records []*screen.CanonicalRecord
	for i, text := range []string{"alpha text", "beta text", "alpha text", "gamma text", "beta text"} {
		records = append(records, record("t1", "r"+strings.Repeat("x", i+1), "permissive", text))
	}
	stats := runMerge(t, m, records...)
	assert.Equal(t, 3, stats.Merged)
	assert.Equal(t, 2, stats.ExactDups)

	seen := make(map[string]bool)
	for _, shardPath := range stats.Shards {
		f, err := os.Open(shardPath)
		require.NoError(t, err)
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			var rec screen.CanonicalRecord
			require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
			assert.False(t, seen[rec.ContentSHA256], "duplicate hash in merged output")
			seen[rec.ContentSHA256] = true
		}
		f.Close()
	}
}

// Re-merging records already decided by a previous run appends nothing:
// the ledger stays byte-identical and no new shards appear.
func TestMerger_RerunIsSilent(t *testing.T) {
	root := t.TempDir()
	ledger, err := shard.OpenLedger(filepath.Join(root, "_ledger"), "merge")
	require.NoError(t, err)
	defer ledger.Close()

	index := NewMemIndex()
	newWriter := func(pool Pool) (*shard.Writer, error) {
		return shard.NewWriter(filepath.Join(root, "combined", string(pool), "shards"),
			shard.Config{MaxRecords: 100})
	}

	text := "the same text admitted once and replayed on a second run"
	records := []*screen.CanonicalRecord{
		record("t1", "rec-1", "permissive", text),
		record("t2", "rec-2", "permissive", text),
	}

	first := runMerge(t, NewMerger(index, ledger, newWriter, MergeConfig{}, nil), records...)
	assert.Equal(t, 1, first.Merged)
	assert.Equal(t, 1, first.ExactDups)

	second := runMerge(t, NewMerger(index, ledger, newWriter, MergeConfig{}, nil), records...)
	assert.Zero(t, second.Merged)
	assert.Zero(t, second.ExactDups)
	assert.Empty(t, second.Shards)

	assert.Len(t, readLedgerEvents(t, root), 2)
}

func TestRoutePool(t *testing.T) {
	assert.Equal(t, PoolPermissive, RoutePool(config.ProfilePermissive, ""))
	assert.Equal(t, PoolPermissive, RoutePool(config.ProfilePublicDomain, ""))
	assert.Equal(t, PoolPermissive, RoutePool(config.ProfileRecordLevel, ""))
	assert.Equal(t, PoolCopyleft, RoutePool(config.ProfileCopyleft, ""))
	assert.Equal(t, PoolQuarantine, RoutePool(config.ProfileUnknown, ""))
	assert.Equal(t, PoolQuarantine, RoutePool(config.ProfileDeny, ""))
	// Hint overrides profile.
	assert.Equal(t, PoolQuarantine, RoutePool(config.ProfilePermissive, "quarantine"))
	// Unknown hint falls back to the profile.
	assert.Equal(t, PoolPermissive, RoutePool(config.ProfilePermissive, "bogus"))
}

func TestBadgerIndex_PutIfAbsent(t *testing.T) {
	idx, err := OpenBadgerIndex(BadgerConfig{InMemory: true})
	require.NoError(t, err)
	defer idx.Close()

	first, existing, err := idx.PutIfAbsent("hash1", "r1")
	require.NoError(t, err)
	assert.True(t, first)
	assert.Empty(t, existing)

	first, existing, err = idx.PutIfAbsent("hash1", "r2")
	require.NoError(t, err)
	assert.False(t, first)
	assert.Equal(t, "r1", existing)

	first, _, err = idx.PutIfAbsent("hash2", "r2")
	require.NoError(t, err)
	assert.True(t, first)
}

func TestBadgerIndex_PersistsAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")

	idx, err := OpenBadgerIndex(BadgerConfig{Path: dir})
	require.NoError(t, err)
	_, _, err = idx.PutIfAbsent("hash1", "r1")
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	idx2, err := OpenBadgerIndex(BadgerConfig{Path: dir})
	require.NoError(t, err)
	defer idx2.Close()

	first, existing, err := idx2.PutIfAbsent("hash1", "r-later")
	require.NoError(t, err)
	assert.False(t, first, "claim must survive reopen")
	assert.Equal(t, "r1", existing)
}
