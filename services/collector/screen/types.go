// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package screen

import "time"

// Provenance records where a canonical record's text came from.
type Provenance struct {
	TargetID    string    `json:"target_id"`
	SourceURL   string    `json:"source_url,omitempty"`
	RetrievedAt time.Time `json:"retrieved_at"`

	// Origin is the payload-relative file (and optional line) the text
	// was selected from.
	Origin string `json:"origin,omitempty"`
}

// License carries the resolved identity a record was admitted under.
type License struct {
	ResolvedSPDX string `json:"resolved_spdx,omitempty"`
	Pool         string `json:"pool"`
}

// CanonicalRecord is one normalized, screened text document. Immutable
// once produced; downstream stages dedup it by ContentSHA256.
type CanonicalRecord struct {
	RecordID   string     `json:"record_id"`
	Text       string     `json:"text"`
	Provenance Provenance `json:"provenance"`
	License    License    `json:"license"`

	// ContentSHA256 is sha256 over the normalized text, the identity
	// used for exact dedup.
	ContentSHA256 string `json:"content_sha256"`
}

// Pitch is a rejected document with its machine-readable reason.
type Pitch struct {
	Provenance Provenance `json:"provenance"`
	Reason     string     `json:"reason"`
	Detail     string     `json:"detail,omitempty"`
}

// Pitch reason codes.
const (
	PitchNoText             = "no_text_selected"
	PitchTooShort           = "too_short"
	PitchTooLong            = "too_long"
	PitchDenylistHit        = "denylist_hit"
	PitchCheckFailed        = "check_failed"
	PitchCheckIndeterminate = "check_indeterminate"
	PitchInvalidPayload     = "invalid_payload"
)

// Outcome is the explicit pass/pitch variant for one document. Exactly
// one of Record and Pitched is set.
type Outcome struct {
	Record  *CanonicalRecord
	Pitched *Pitch
}

// Passed reports whether the document survived screening.
func (o Outcome) Passed() bool { return o.Record != nil }
