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

import "sync"

// Index maps content hashes to the first-seen record that owns them.
// First-seen wins: once a hash is claimed, every later record with the
// same hash is a duplicate of the recorded owner.
type Index interface {
	// PutIfAbsent claims hash for owner. first is true when this call
	// claimed it; otherwise existing is the owner already on record.
	PutIfAbsent(hash, owner string) (first bool, existing string, err error)

	Close() error
}

// MemIndex is an in-memory Index for tests and single-shot runs.
//
// Thread Safety: safe for concurrent use.
type MemIndex struct {
	mu     sync.Mutex
	owners map[string]string
}

// NewMemIndex creates an empty MemIndex.
func NewMemIndex() *MemIndex {
	return &MemIndex{owners: make(map[string]string)}
}

// PutIfAbsent implements Index.
func (m *MemIndex) PutIfAbsent(hash, owner string) (bool, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.owners[hash]; ok {
		return false, existing, nil
	}
	m.owners[hash] = owner
	return true, "", nil
}

// Close implements Index.
func (m *MemIndex) Close() error { return nil }
