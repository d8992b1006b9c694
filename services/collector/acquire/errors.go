// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package acquire

import "errors"

// Security violations. These are never retried: a blocked address or a
// traversal attempt does not become safe on the next attempt.
var (
	// ErrBlockedAddress indicates a download URL (or a redirect hop)
	// resolved to a private, loopback, or link-local address.
	ErrBlockedAddress = errors.New("destination address is blocked")

	// ErrPathTraversal indicates an archive entry whose path would escape
	// the extraction root.
	ErrPathTraversal = errors.New("archive entry escapes extraction root")

	// ErrSymlinkEntry indicates an archive entry that is a symlink or
	// hardlink. Links are rejected wholesale rather than resolved.
	ErrSymlinkEntry = errors.New("archive entry is a link")

	// ErrDecompressionBomb indicates extraction exceeded the configured
	// expansion ratio.
	ErrDecompressionBomb = errors.New("decompression ratio limit exceeded")
)

// Integrity and dispatch errors.
var (
	// ErrChecksumMismatch indicates the downloaded payload hash does not
	// match the pinned expectation.
	ErrChecksumMismatch = errors.New("payload checksum mismatch")

	// ErrSizeMismatch indicates the downloaded payload size does not match
	// the pinned expectation.
	ErrSizeMismatch = errors.New("payload size mismatch")

	// ErrUnknownStrategy indicates a target names an acquisition strategy
	// with no registered implementation.
	ErrUnknownStrategy = errors.New("unknown acquisition strategy")

	// ErrAttemptsExhausted indicates all retry attempts failed.
	ErrAttemptsExhausted = errors.New("acquisition attempts exhausted")
)

// IsSecurityViolation reports whether err is one of the non-retryable
// security sentinels.
func IsSecurityViolation(err error) bool {
	return errors.Is(err, ErrBlockedAddress) ||
		errors.Is(err, ErrPathTraversal) ||
		errors.Is(err, ErrSymlinkEntry) ||
		errors.Is(err, ErrDecompressionBomb)
}
