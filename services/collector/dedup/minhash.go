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
	"strings"
)

// Fingerprint is a MinHash signature over one record's normalized text.
type Fingerprint struct {
	RecordID   string
	MinHashSig []uint64
}

// MinHashConfig parameterizes fingerprinting. NumHashes must be
// divisible by the LSH band count.
type MinHashConfig struct {
	// ShingleSize is k for word k-shingles.
	ShingleSize int

	// NumHashes is the signature length.
	NumHashes int
}

// NewFingerprint computes the MinHash signature of text.
//
// The text is shingled into overlapping word k-grams; each of the
// NumHashes seeded hash functions keeps its minimum over all shingles.
// Texts shorter than one shingle fingerprint over their whole word set.
func NewFingerprint(recordID, text string, cfg MinHashConfig) *Fingerprint {
	shingles := shingle(text, cfg.ShingleSize)
	if len(shingles) == 0 {
		return &Fingerprint{RecordID: recordID}
	}

	sig := make([]uint64, cfg.NumHashes)
	for i := range sig {
		sig[i] = ^uint64(0)
	}

	for _, s := range shingles {
		base := hashShingle(s)
		for i := range sig {
			seed := uint64(i*31 + 17)
			combined := base ^ (seed * 0x9e3779b97f4a7c15)
			if combined < sig[i] {
				sig[i] = combined
			}
		}
	}

	return &Fingerprint{RecordID: recordID, MinHashSig: sig}
}

// EstimatedJaccard estimates similarity as the fraction of matching
// signature positions.
func (f *Fingerprint) EstimatedJaccard(other *Fingerprint) float64 {
	if f == nil || other == nil ||
		len(f.MinHashSig) == 0 || len(f.MinHashSig) != len(other.MinHashSig) {
		return 0
	}
	matching := 0
	for i := range f.MinHashSig {
		if f.MinHashSig[i] == other.MinHashSig[i] {
			matching++
		}
	}
	return float64(matching) / float64(len(f.MinHashSig))
}

// shingle splits text into overlapping word k-grams. A text with fewer
// than k words yields one shingle of all its words.
func shingle(text string, k int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if k <= 1 || len(words) <= k {
		return []string{strings.Join(words, " ")}
	}
	shingles := make([]string, 0, len(words)-k+1)
	for i := 0; i+k <= len(words); i++ {
		shingles = append(shingles, strings.Join(words[i:i+k], " "))
	}
	return shingles
}

func hashShingle(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}
