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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const signoffFileName = "signoff.json"

// Signoff is a human review approval bound to one specific evidence hash.
// It is active only while the bound hash equals the current snapshot hash;
// any evidence drift makes it stale without touching the stored file.
type Signoff struct {
	Reviewer string `json:"reviewer"`

	// Decision is "approve" or "reject".
	Decision string `json:"decision"`

	// BoundSHA256 is the raw sha256 of the evidence snapshot the reviewer
	// actually looked at.
	BoundSHA256 string `json:"bound_sha256"`

	Timestamp time.Time `json:"timestamp"`
}

// IsActive reports whether this signoff approves the evidence currently on
// record. Nil signoffs, rejections, and hash drift are all inactive.
func (s *Signoff) IsActive(currentSHA256 string) bool {
	if s == nil || currentSHA256 == "" {
		return false
	}
	return s.Decision == "approve" && s.BoundSHA256 == currentSHA256
}

// Binder persists signoffs in the per-target manifest directory.
//
// Thread Safety: safe for concurrent use across targets.
type Binder struct {
	manifestDir func(targetID string) string
}

// NewBinder creates a Binder. manifestDir resolves a target ID to its
// manifest directory (runctx.Paths.Manifests).
func NewBinder(manifestDir func(targetID string) string) *Binder {
	return &Binder{manifestDir: manifestDir}
}

// Bind stores a signoff bound to the given evidence hash. The write is
// atomic (temp file + rename) so a crash never leaves a torn signoff.
func (b *Binder) Bind(targetID string, signoff Signoff, evidenceSHA256 string) error {
	if targetID == "" {
		return fmt.Errorf("target id must not be empty")
	}
	if evidenceSHA256 == "" {
		return fmt.Errorf("cannot bind signoff to empty evidence hash")
	}
	signoff.BoundSHA256 = evidenceSHA256
	if signoff.Timestamp.IsZero() {
		signoff.Timestamp = time.Now().UTC()
	}

	dir := b.manifestDir(targetID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create manifest directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(signoff, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal signoff: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".signoff-*.tmp")
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
		return fmt.Errorf("write signoff: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync signoff: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close signoff: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, signoffFileName)); err != nil {
		return fmt.Errorf("rename signoff: %w", err)
	}
	success = true
	return nil
}

// Load returns the stored signoff for a target, or (nil, nil) when none
// exists.
func (b *Binder) Load(targetID string) (*Signoff, error) {
	data, err := os.ReadFile(filepath.Join(b.manifestDir(targetID), signoffFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read signoff: %w", err)
	}
	var s Signoff
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal signoff: %w", err)
	}
	return &s, nil
}
