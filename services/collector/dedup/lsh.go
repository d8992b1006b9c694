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
	"hash/fnv"
	"sort"
	"sync"
)

// LSHIndex finds near-duplicate candidates in O(1) per lookup via banded
// MinHash. Two fingerprints are candidates when at least one band
// collides; candidates are then verified against the estimated Jaccard
// similarity, so false bucket collisions cost time but never drop a
// record incorrectly.
//
// Thread Safety: safe for concurrent use.
type LSHIndex struct {
	numBands    int
	rowsPerBand int

	mu           sync.RWMutex
	buckets      []map[uint64][]string
	fingerprints map[string]*Fingerprint
}

// NewLSHIndex creates an index. The signature length of every added
// fingerprint must equal numBands * rowsPerBand.
func NewLSHIndex(numBands, rowsPerBand int) *LSHIndex {
	buckets := make([]map[uint64][]string, numBands)
	for i := range buckets {
		buckets[i] = make(map[uint64][]string)
	}
	return &LSHIndex{
		numBands:     numBands,
		rowsPerBand:  rowsPerBand,
		buckets:      buckets,
		fingerprints: make(map[string]*Fingerprint),
	}
}

// Add hashes a fingerprint into the band buckets. Nil or short
// signatures are ignored.
func (l *LSHIndex) Add(fp *Fingerprint) {
	if fp == nil || len(fp.MinHashSig) < l.numBands*l.rowsPerBand {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.fingerprints[fp.RecordID] = fp
	for band := 0; band < l.numBands; band++ {
		bandHash := l.hashBand(fp.MinHashSig, band)
		l.buckets[band][bandHash] = append(l.buckets[band][bandHash], fp.RecordID)
	}
}

// Match is one verified near-duplicate.
type Match struct {
	RecordID   string
	Similarity float64
}

// QueryWithThreshold returns the indexed records whose estimated Jaccard
// similarity to fp meets threshold.
func (l *LSHIndex) QueryWithThreshold(fp *Fingerprint, threshold float64) []Match {
	if fp == nil || len(fp.MinHashSig) < l.numBands*l.rowsPerBand {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	candidateSet := make(map[string]bool)
	for band := 0; band < l.numBands; band++ {
		bandHash := l.hashBand(fp.MinHashSig, band)
		for _, id := range l.buckets[band][bandHash] {
			if id != fp.RecordID {
				candidateSet[id] = true
			}
		}
	}

	var matches []Match
	for id := range candidateSet {
		candidate := l.fingerprints[id]
		if candidate == nil {
			continue
		}
		if sim := fp.EstimatedJaccard(candidate); sim >= threshold {
			matches = append(matches, Match{RecordID: id, Similarity: sim})
		}
	}
	// Candidates come out of a map; order them so ledger artifacts built
	// from matches[0] are reproducible across runs.
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].RecordID < matches[j].RecordID
	})
	return matches
}

// Size returns the number of indexed fingerprints.
func (l *LSHIndex) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.fingerprints)
}

func (l *LSHIndex) hashBand(sig []uint64, band int) uint64 {
	start := band * l.rowsPerBand
	end := start + l.rowsPerBand

	h := fnv.New64a()
	b := make([]byte, 8)
	for i := start; i < end && i < len(sig); i++ {
		for j := 0; j < 8; j++ {
			b[j] = byte(sig[i] >> (j * 8))
		}
		h.Write(b)
	}
	return h.Sum64()
}
