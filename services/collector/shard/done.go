// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package shard

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Done markers make stages idempotent per target. A marker records the
// hash of the inputs the stage ran against; re-running with the same
// inputs skips the stage, while changed inputs invalidate the marker.

// WriteDone atomically records completion of stage for the target whose
// manifest directory is dir. inputHash identifies the inputs the stage
// consumed.
func WriteDone(dir, stage, inputHash string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create manifest directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+stage+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp marker: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.WriteString(inputHash + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("write marker: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync marker: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close marker: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, stage+".done")); err != nil {
		return fmt.Errorf("rename marker: %w", err)
	}
	success = true
	return nil
}

// DoneMatches reports whether stage already completed for these inputs.
// A missing marker, or a marker recorded against different inputs,
// reports false.
func DoneMatches(dir, stage, inputHash string) (bool, error) {
	data, err := os.ReadFile(filepath.Join(dir, stage+".done"))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read marker: %w", err)
	}
	return strings.TrimSpace(string(data)) == inputHash, nil
}
