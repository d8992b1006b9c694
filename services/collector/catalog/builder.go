// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package catalog aggregates stage outputs into one summary artifact.
// The builder only reads: ledgers and shards are never mutated.
package catalog

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/FoilMiser/Dataset-Collector-sub001/services/collector/runctx"
)

// StageSummary aggregates one pool's shards within one stage.
type StageSummary struct {
	Shards  int   `json:"shards"`
	Records int   `json:"records"`
	Bytes   int64 `json:"bytes"`
}

// Summary is the catalog artifact for one run root.
type Summary struct {
	GeneratedAt time.Time `json:"generated_at"`
	RunID       string    `json:"run_id"`

	// Pools maps pool name -> stage name -> aggregate.
	Pools map[string]map[string]StageSummary `json:"pools"`

	// Ledgers maps ledger name -> line count.
	Ledgers map[string]int `json:"ledgers"`

	// RejectReasons is the histogram of pitch reasons and dedup drops
	// across all ledgers.
	RejectReasons map[string]int `json:"reject_reasons"`

	// Targets is the number of target manifest directories present.
	Targets int `json:"targets"`
}

// Builder assembles summaries from a run root.
type Builder struct {
	rc *runctx.RunContext
}

// NewBuilder creates a Builder over one run.
func NewBuilder(rc *runctx.RunContext) *Builder {
	return &Builder{rc: rc}
}

// Build walks the run root and writes the summary to
// _catalogs/catalog-<unix>.json. Returns the summary and its path.
func (b *Builder) Build() (*Summary, string, error) {
	summary := &Summary{
		GeneratedAt:   b.rc.Now().UTC(),
		RunID:         b.rc.RunID,
		Pools:         make(map[string]map[string]StageSummary),
		Ledgers:       make(map[string]int),
		RejectReasons: make(map[string]int),
	}

	for _, stage := range []string{"screened", "combined"} {
		if err := b.scanStage(summary, stage); err != nil {
			return nil, "", err
		}
	}
	if err := b.scanLedgers(summary); err != nil {
		return nil, "", err
	}
	if err := b.countTargets(summary); err != nil {
		return nil, "", err
	}

	path, err := b.write(summary)
	if err != nil {
		return nil, "", err
	}
	return summary, path, nil
}

func (b *Builder) scanStage(summary *Summary, stage string) error {
	stageRoot := filepath.Join(b.rc.Paths.Root, stage)
	pools, err := os.ReadDir(stageRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read stage %s: %w", stage, err)
	}

	for _, pool := range pools {
		if !pool.IsDir() {
			continue
		}
		shardDir := filepath.Join(stageRoot, pool.Name(), "shards")
		paths, err := filepath.Glob(filepath.Join(shardDir, "shard-*.jsonl*"))
		if err != nil {
			return err
		}
		sort.Strings(paths)

		agg := StageSummary{}
		for _, path := range paths {
			fi, err := os.Stat(path)
			if err != nil {
				return fmt.Errorf("stat shard: %w", err)
			}
			records, err := countShardRecords(path)
			if err != nil {
				return err
			}
			agg.Shards++
			agg.Records += records
			agg.Bytes += fi.Size()
		}
		if agg.Shards == 0 {
			continue
		}
		if summary.Pools[pool.Name()] == nil {
			summary.Pools[pool.Name()] = make(map[string]StageSummary)
		}
		summary.Pools[pool.Name()][stage] = agg
	}
	return nil
}

func (b *Builder) scanLedgers(summary *Summary) error {
	paths, err := filepath.Glob(filepath.Join(b.rc.Paths.Ledger(), "*.jsonl"))
	if err != nil {
		return err
	}
	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".jsonl")
		lines, err := b.scanLedger(path, summary.RejectReasons)
		if err != nil {
			return err
		}
		summary.Ledgers[name] = lines
	}
	return nil
}

// scanLedger counts lines and folds reject-style events into the reason
// histogram. Pitch events carry "reason"; merge events carry "event"
// codes that only count when they represent a drop.
func (b *Builder) scanLedger(path string, reasons map[string]int) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open ledger %s: %w", path, err)
	}
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		lines++
		var entry struct {
			Reason string `json:"reason"`
			Event  string `json:"event"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		switch {
		case entry.Reason != "":
			reasons[entry.Reason]++
		case entry.Event == "duplicate" || entry.Event == "near_duplicate_dropped":
			reasons[entry.Event]++
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan ledger %s: %w", path, err)
	}
	return lines, nil
}

func (b *Builder) countTargets(summary *Summary) error {
	entries, err := os.ReadDir(filepath.Join(b.rc.Paths.Root, "_manifests"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			summary.Targets++
		}
	}
	return nil
}

func (b *Builder) write(summary *Summary) (string, error) {
	dir := b.rc.Paths.Catalogs()
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create catalog directory: %w", err)
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal catalog: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".catalog-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp catalog: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write catalog: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("sync catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close catalog: %w", err)
	}

	final := filepath.Join(dir, fmt.Sprintf("catalog-%d.json", summary.GeneratedAt.Unix()))
	if err := os.Rename(tmpPath, final); err != nil {
		return "", fmt.Errorf("rename catalog: %w", err)
	}
	success = true
	return final, nil
}

func countShardRecords(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open shard %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return 0, fmt.Errorf("open gzip shard %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	n := 0
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		n++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan shard %s: %w", path, err)
	}
	return n, nil
}
