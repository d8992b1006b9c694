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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	snapshotMetaName = "evidence.json"
	snapshotRawName  = "evidence.raw"
)

// Store persists evidence snapshots under the per-target manifest directory
// as an append-only history: the current snapshot lives at evidence.json /
// evidence.raw, and superseded snapshots are renamed to timestamped paths
// rather than overwritten.
//
// Thread Safety: safe for concurrent use across targets; per-target
// operations are serialized by an internal lock.
type Store struct {
	// manifestDir maps a target ID to its manifest directory.
	manifestDir func(targetID string) string

	mu sync.Mutex

	// lastRaw caches the most recent raw sha256 per target so change
	// detection does not re-read the metadata file on every fetch.
	lastRaw map[string]string
}

// NewStore creates a snapshot store. manifestDir resolves a target ID to
// its manifest directory (runctx.Paths.Manifests).
func NewStore(manifestDir func(targetID string) string) *Store {
	return &Store{
		manifestDir: manifestDir,
		lastRaw:     make(map[string]string),
	}
}

// LastRawSHA256 returns the raw sha256 of the current stored snapshot for a
// target, if one exists.
func (s *Store) LastRawSHA256(targetID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRawLocked(targetID)
}

func (s *Store) lastRawLocked(targetID string) (string, bool) {
	if sha, ok := s.lastRaw[targetID]; ok {
		return sha, true
	}
	snap, err := s.loadCurrent(targetID)
	if err != nil {
		return "", false
	}
	s.lastRaw[targetID] = snap.RawSHA256
	return snap.RawSHA256, true
}

// Current returns the current stored snapshot for a target. The raw bytes
// are reloaded from evidence.raw.
func (s *Store) Current(targetID string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.loadCurrent(targetID)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(filepath.Join(s.manifestDir(targetID), snapshotRawName))
	if err == nil {
		snap.Raw = raw
	}
	return snap, nil
}

func (s *Store) loadCurrent(targetID string) (*Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(s.manifestDir(targetID), snapshotMetaName))
	if err != nil {
		return nil, fmt.Errorf("read snapshot metadata: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot metadata: %w", err)
	}
	return &snap, nil
}

// Put stores a new snapshot as the current one. If a current snapshot
// exists it is renamed to evidence-<unixms>.json / .raw first, preserving
// the full history. Writes are atomic via temp file + rename.
func (s *Store) Put(snap *Snapshot) error {
	if snap == nil || snap.TargetID == "" {
		return fmt.Errorf("snapshot must carry a target id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.manifestDir(snap.TargetID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create manifest directory %s: %w", dir, err)
	}

	// Preserve the superseded snapshot under a timestamped name.
	if prev, err := s.loadCurrent(snap.TargetID); err == nil {
		stamp := fmt.Sprintf("%d", prev.FetchedAt.UnixMilli())
		for _, pair := range [][2]string{
			{snapshotMetaName, "evidence-" + stamp + ".json"},
			{snapshotRawName, "evidence-" + stamp + ".raw"},
		} {
			oldPath := filepath.Join(dir, pair[0])
			newPath := filepath.Join(dir, pair[1])
			if _, statErr := os.Stat(oldPath); statErr == nil {
				if err := os.Rename(oldPath, newPath); err != nil {
					return fmt.Errorf("preserve superseded snapshot: %w", err)
				}
			}
		}
	}

	meta, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot metadata: %w", err)
	}
	if err := atomicWrite(filepath.Join(dir, snapshotMetaName), meta); err != nil {
		return err
	}
	if err := atomicWrite(filepath.Join(dir, snapshotRawName), snap.Raw); err != nil {
		return err
	}

	s.lastRaw[snap.TargetID] = snap.RawSHA256
	return nil
}

// History lists the timestamped metadata files of superseded snapshots.
func (s *Store) History(targetID string) ([]string, error) {
	entries, err := os.ReadDir(s.manifestDir(targetID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if len(name) > len("evidence-") && name[:len("evidence-")] == "evidence-" &&
			filepath.Ext(name) == ".json" {
			out = append(out, name)
		}
	}
	return out, nil
}

// atomicWrite writes data via temp file + rename so a crash mid-write never
// leaves a partial file visible under its final name.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".evidence-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
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
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	success = true
	return nil
}
