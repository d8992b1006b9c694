// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package shard writes size-bounded, append-only output files and the
// audit ledgers beside them. Shards become visible under their final
// names only when complete; a crash mid-write leaves temp files, never a
// torn shard.
package shard

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config bounds one shard file.
type Config struct {
	// MaxRecords closes the active shard after this many records.
	MaxRecords int

	// MaxBytes closes the active shard when the next record would push
	// its uncompressed size past this bound.
	MaxBytes int64

	// Gzip compresses finalized shards (.jsonl.gz).
	Gzip bool
}

// Writer streams JSON records into rotating shard files.
//
// Thread Safety: NOT safe for concurrent use. The merge stage has a
// single logical writer per pool; that goroutine owns this struct.
type Writer struct {
	dir       string
	cfg       Config
	seq       int
	active    *activeShard
	finalized []string
}

type activeShard struct {
	file    *os.File
	gz      *gzip.Writer
	out     io.Writer
	tmpPath string
	records int
	bytes   int64
}

// NewWriter creates a Writer rooted at dir, creating it if needed.
func NewWriter(dir string, cfg Config) (*Writer, error) {
	if cfg.MaxRecords <= 0 {
		return nil, fmt.Errorf("max records must be positive, got %d", cfg.MaxRecords)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create shard directory: %w", err)
	}
	w := &Writer{dir: dir, cfg: cfg}

	// Resume numbering after shards from an earlier run; closed shards
	// are never rewritten.
	existing, err := filepath.Glob(filepath.Join(dir, "shard-*.jsonl*"))
	if err == nil {
		for _, path := range existing {
			var n int
			base := filepath.Base(path)
			if _, scanErr := fmt.Sscanf(base, "shard-%05d.jsonl", &n); scanErr == nil && n > w.seq {
				w.seq = n
			}
		}
	}
	return w, nil
}

// Append marshals v as one JSONL record, rotating first when the active
// shard is at either bound.
func (w *Writer) Append(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	line = append(line, '\n')

	if w.active != nil {
		full := w.active.records >= w.cfg.MaxRecords ||
			(w.cfg.MaxBytes > 0 && w.active.bytes+int64(len(line)) > w.cfg.MaxBytes)
		if full {
			if err := w.rotate(); err != nil {
				return err
			}
		}
	}
	if w.active == nil {
		if err := w.open(); err != nil {
			return err
		}
	}

	if _, err := w.active.out.Write(line); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	w.active.records++
	w.active.bytes += int64(len(line))
	return nil
}

// Close finalizes the active shard. Safe to call with nothing written.
func (w *Writer) Close() error {
	if w.active == nil {
		return nil
	}
	return w.rotate()
}

// Finalized returns the absolute paths of every closed shard, in order.
func (w *Writer) Finalized() []string {
	out := make([]string, len(w.finalized))
	copy(out, w.finalized)
	return out
}

func (w *Writer) open() error {
	tmp, err := os.CreateTemp(w.dir, ".shard-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp shard: %w", err)
	}
	shard := &activeShard{file: tmp, tmpPath: tmp.Name(), out: tmp}
	if w.cfg.Gzip {
		shard.gz = gzip.NewWriter(tmp)
		shard.out = shard.gz
	}
	w.active = shard
	return nil
}

func (w *Writer) rotate() error {
	shard := w.active
	w.active = nil

	success := false
	defer func() {
		if !success {
			shard.file.Close()
			os.Remove(shard.tmpPath)
		}
	}()

	if shard.gz != nil {
		if err := shard.gz.Close(); err != nil {
			return fmt.Errorf("close gzip stream: %w", err)
		}
	}
	if err := shard.file.Sync(); err != nil {
		return fmt.Errorf("sync shard: %w", err)
	}
	if err := shard.file.Close(); err != nil {
		return fmt.Errorf("close shard: %w", err)
	}

	w.seq++
	name := fmt.Sprintf("shard-%05d.jsonl", w.seq)
	if w.cfg.Gzip {
		name += ".gz"
	}
	final := filepath.Join(w.dir, name)
	if err := os.Rename(shard.tmpPath, final); err != nil {
		return fmt.Errorf("finalize shard: %w", err)
	}
	success = true
	w.finalized = append(w.finalized, final)
	return nil
}
