// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dedup routes screened records into license pools and rejects
// exact and near duplicates before sharding.
package dedup

import "github.com/FoilMiser/Dataset-Collector-sub001/services/collector/config"

// Pool is a license-compatibility partition of the output corpus.
// Pools never mix within one shard.
type Pool string

const (
	PoolPermissive Pool = "permissive"
	PoolCopyleft   Pool = "copyleft"
	PoolQuarantine Pool = "quarantine"
)

// KnownPool reports whether name is one of the defined pools.
func KnownPool(name string) bool {
	switch Pool(name) {
	case PoolPermissive, PoolCopyleft, PoolQuarantine:
		return true
	}
	return false
}

// NormalizePool maps a stored pool name onto a known Pool. Anything
// unrecognized lands in quarantine, never in a distributable pool.
func NormalizePool(name string) Pool {
	if KnownPool(name) {
		return Pool(name)
	}
	return PoolQuarantine
}

// RoutePool maps a declared profile onto its pool. An explicit pool hint
// on the target wins when it names a known pool.
func RoutePool(profile config.Profile, hint string) Pool {
	if KnownPool(hint) {
		return Pool(hint)
	}
	switch profile {
	case config.ProfilePermissive, config.ProfilePublicDomain, config.ProfileRecordLevel:
		return PoolPermissive
	case config.ProfileCopyleft:
		return PoolCopyleft
	default:
		return PoolQuarantine
	}
}
