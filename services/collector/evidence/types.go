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
	"time"
)

// Snapshot is one captured copy of a target's license/ToS evidence.
//
// Snapshots are never overwritten: when a newer fetch supersedes one, the
// store renames the old snapshot to a timestamped path and keeps it.
//
// Thread Safety: immutable after creation.
type Snapshot struct {
	TargetID  string    `json:"target_id"`
	SourceURL string    `json:"source_url"`
	FetchedAt time.Time `json:"fetched_at"`

	// Raw is the fetched payload, bounded by the fetcher's MaxBytes.
	// Persisted separately as evidence.raw; omitted from the JSON metadata.
	Raw []byte `json:"-"`

	// Text is the normalized text extracted from Raw (HTML stripped, PDF
	// first-K-pages, whitespace collapsed).
	Text string `json:"text"`

	RawSHA256  string `json:"raw_sha256"`
	TextSHA256 string `json:"text_sha256"`

	// Headers are the response headers with credential values redacted.
	Headers map[string]string `json:"headers"`

	// ChangedFromPrevious is true when RawSHA256 differs from the last
	// stored snapshot for this target (and a previous snapshot existed).
	ChangedFromPrevious bool `json:"changed_from_previous"`
}

// Outcome is the explicit result variant of a fetch: either a snapshot or
// an "unavailable" marker with a machine-readable reason. Fetch and extract
// failures are data, not errors, so the classifier can apply its
// conservative default instead of aborting the target.
type Outcome struct {
	Snapshot    *Snapshot `json:"snapshot,omitempty"`
	Unavailable bool      `json:"unavailable"`
	Reason      string    `json:"reason,omitempty"`
}

// Unavailable reason codes.
const (
	ReasonNoEvidenceURL = "no_evidence_url"
	ReasonFetchFailed   = "fetch_failed"
	ReasonTooLarge      = "evidence_too_large"
	ReasonExtractFailed = "extract_failed"
	ReasonHTTPStatus    = "http_status"
	ReasonTimeout       = "fetch_timeout"
)
