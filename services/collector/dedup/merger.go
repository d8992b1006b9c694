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
	"context"
	"fmt"
	"log/slog"

	"github.com/FoilMiser/Dataset-Collector-sub001/services/collector/screen"
	"github.com/FoilMiser/Dataset-Collector-sub001/services/collector/shard"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("collector.dedup")

// NearDupPolicy decides what happens to a verified near-duplicate.
type NearDupPolicy string

const (
	// PolicyDrop rejects near-duplicates.
	PolicyDrop NearDupPolicy = "drop"

	// PolicyLogOnly keeps near-duplicates but records them in the
	// ledger.
	PolicyLogOnly NearDupPolicy = "log_only"
)

// MergeConfig parameterizes one merge run.
type MergeConfig struct {
	NearDup             bool
	Policy              NearDupPolicy
	SimilarityThreshold float64
	ShingleSize         int
	NumHashFuncs        int
	NumBands            int
}

// Event is one merge decision appended to the ledger.
type Event struct {
	Event    string `json:"event"`
	RecordID string `json:"record_id"`
	TargetID string `json:"target_id,omitempty"`
	Pool     string `json:"pool"`

	// DuplicateOf names the first-seen owner for exact duplicates,
	// formatted duplicate_of:<record id>.
	DuplicateOf string `json:"duplicate_of,omitempty"`

	SimilarTo  string  `json:"similar_to,omitempty"`
	Similarity float64 `json:"similarity,omitempty"`
}

// Stats summarizes one merge run.
type Stats struct {
	Merged    int
	ExactDups int
	NearDups  int
	PerPool   map[Pool]int
	Shards    []string
}

// WriterFactory opens the shard writer for a pool on first use.
type WriterFactory func(pool Pool) (*shard.Writer, error)

// Merger consumes a record stream and owns all first-seen decisions.
// Producers are free to screen in parallel; the merge loop is the single
// writer for the index, the LSH state, and every shard file, so no
// first-seen race exists by construction.
type Merger struct {
	index     Index
	ledger    *shard.Ledger
	newWriter WriterFactory
	cfg       MergeConfig
	logger    *slog.Logger

	lsh     *LSHIndex
	writers map[Pool]*shard.Writer
}

// NewMerger creates a Merger. ledger failures abort the merge; audit
// integrity outranks forward progress.
func NewMerger(index Index, ledger *shard.Ledger, newWriter WriterFactory, cfg MergeConfig, logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Merger{
		index:     index,
		ledger:    ledger,
		newWriter: newWriter,
		cfg:       cfg,
		logger:    logger,
		writers:   make(map[Pool]*shard.Writer),
	}
	if cfg.NearDup {
		m.lsh = NewLSHIndex(cfg.NumBands, cfg.NumHashFuncs/cfg.NumBands)
	}
	return m
}

// Merge drains records until the channel closes, writing kept records to
// per-pool shards. Call from exactly one goroutine.
func (m *Merger) Merge(ctx context.Context, records <-chan *screen.CanonicalRecord) (*Stats, error) {
	ctx, span := tracer.Start(ctx, "dedup.merge")
	defer span.End()

	stats := &Stats{PerPool: make(map[Pool]int)}
	for {
		select {
		case <-ctx.Done():
			m.closeWriters(stats)
			return stats, ctx.Err()
		case record, ok := <-records:
			if !ok {
				if err := m.closeWriters(stats); err != nil {
					return stats, err
				}
				span.SetAttributes(
					attribute.Int("merged", stats.Merged),
					attribute.Int("exact_dups", stats.ExactDups),
					attribute.Int("near_dups", stats.NearDups),
				)
				return stats, nil
			}
			if err := m.mergeOne(record, stats); err != nil {
				m.closeWriters(stats)
				return stats, err
			}
		}
	}
}

func (m *Merger) mergeOne(record *screen.CanonicalRecord, stats *Stats) error {
	pool := NormalizePool(record.License.Pool)
	event := Event{
		RecordID: record.RecordID,
		TargetID: record.Provenance.TargetID,
		Pool:     string(pool),
	}

	// A record seen by a previous run already has its decision in the
	// ledger; skipping it silently keeps re-runs byte-identical.
	fresh, _, err := m.index.PutIfAbsent("rec:"+record.RecordID, record.ContentSHA256)
	if err != nil {
		return fmt.Errorf("dedup index: %w", err)
	}
	if !fresh {
		return nil
	}

	first, existing, err := m.index.PutIfAbsent(record.ContentSHA256, record.RecordID)
	if err != nil {
		return fmt.Errorf("dedup index: %w", err)
	}
	if !first {
		stats.ExactDups++
		event.Event = "duplicate"
		event.DuplicateOf = "duplicate_of:" + existing
		return m.ledger.Append(event)
	}

	if m.lsh != nil {
		fp := NewFingerprint(record.RecordID, record.Text, MinHashConfig{
			ShingleSize: m.cfg.ShingleSize,
			NumHashes:   m.cfg.NumHashFuncs,
		})
		matches := m.lsh.QueryWithThreshold(fp, m.cfg.SimilarityThreshold)
		if len(matches) > 0 {
			stats.NearDups++
			event.SimilarTo = matches[0].RecordID
			event.Similarity = matches[0].Similarity
			if m.cfg.Policy == PolicyDrop {
				event.Event = "near_duplicate_dropped"
				return m.ledger.Append(event)
			}
			event.Event = "near_duplicate_kept"
			if err := m.ledger.Append(event); err != nil {
				return err
			}
			event = Event{RecordID: record.RecordID, TargetID: record.Provenance.TargetID, Pool: string(pool)}
		}
		m.lsh.Add(fp)
	}

	writer, err := m.writerFor(pool)
	if err != nil {
		return err
	}
	if err := writer.Append(record); err != nil {
		return fmt.Errorf("append to %s shard: %w", pool, err)
	}
	stats.Merged++
	stats.PerPool[pool]++

	event.Event = "merged"
	return m.ledger.Append(event)
}

func (m *Merger) writerFor(pool Pool) (*shard.Writer, error) {
	if w, ok := m.writers[pool]; ok {
		return w, nil
	}
	w, err := m.newWriter(pool)
	if err != nil {
		return nil, fmt.Errorf("open %s shard writer: %w", pool, err)
	}
	m.writers[pool] = w
	return w, nil
}

func (m *Merger) closeWriters(stats *Stats) error {
	var firstErr error
	for pool, w := range m.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s shard writer: %w", pool, err)
		}
		stats.Shards = append(stats.Shards, w.Finalized()...)
	}
	return firstErr
}
