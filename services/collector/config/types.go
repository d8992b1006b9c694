// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile is a target's declared license profile. Profiles are an enumerated
// schema: anything not listed here fails config validation rather than being
// silently accepted.
type Profile string

const (
	ProfilePermissive   Profile = "permissive"
	ProfilePublicDomain Profile = "public_domain"
	ProfileRecordLevel  Profile = "record_level"
	ProfileCopyleft     Profile = "copyleft"
	ProfileUnknown      Profile = "unknown"
	ProfileQuarantine   Profile = "quarantine"
	ProfileDeny         Profile = "deny"
)

func (p *Profile) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	incoming := Profile(s)
	switch incoming {
	case ProfilePermissive, ProfilePublicDomain, ProfileRecordLevel,
		ProfileCopyleft, ProfileUnknown, ProfileQuarantine, ProfileDeny:
		*p = incoming
		return nil
	default:
		return fmt.Errorf("invalid value for Profile: %q", incoming)
	}
}

// Target is one candidate data source. Config-owned and immutable at runtime.
type Target struct {
	ID      string  `yaml:"id" validate:"required"`
	Enabled bool    `yaml:"enabled"`
	Profile Profile `yaml:"profile" validate:"required"`

	// SPDXHint is an optional declared SPDX identifier used as a resolution
	// input alongside evidence text.
	SPDXHint string `yaml:"spdx_hint"`

	// EvidenceURL is where license/ToS evidence is fetched from. Required
	// whenever the evidence_required gate is enabled.
	EvidenceURL string `yaml:"evidence_url" validate:"omitempty,url"`

	// Gates toggles classifier precedence rules for this target. Legacy
	// aliases are accepted and normalized at load time.
	Gates []string `yaml:"gates"`

	Acquisition AcquisitionConfig `yaml:"acquisition"`
	Screening   ScreeningConfig   `yaml:"screening"`

	// PoolHint optionally overrides deterministic pool routing. Must name a
	// valid pool when present.
	PoolHint string `yaml:"pool_hint" validate:"omitempty,oneof=permissive copyleft quarantine"`
}

// AcquisitionConfig carries the per-target acquisition parameters consumed by
// the dispatcher and its strategy.
type AcquisitionConfig struct {
	// Strategy names a registered acquisition strategy ("http" in-tree).
	Strategy string `yaml:"strategy" validate:"required"`

	URL string `yaml:"url" validate:"omitempty,url"`

	// ExpectedSHA256 and ExpectedSize, when set, are verified on every
	// download regardless of global hashing settings.
	ExpectedSHA256 string `yaml:"expected_sha256" validate:"omitempty,len=64,hexadecimal"`
	ExpectedSize   int64  `yaml:"expected_size" validate:"gte=0"`

	// ResolverKey groups targets under one token bucket. Defaults to the
	// URL host when empty.
	ResolverKey string `yaml:"resolver_key"`
}

// ScreeningConfig bounds canonicalization for a target.
type ScreeningConfig struct {
	// Selectors is the ordered list of field names tried when extracting
	// text from a raw record. Defaults to ["text", "content", "body"].
	Selectors []string `yaml:"selectors"`

	MinLength int `yaml:"min_length" validate:"gte=0"`
	MaxLength int `yaml:"max_length" validate:"gte=0"`
}

// DedupConfig controls exact and near-duplicate detection.
type DedupConfig struct {
	// NearDup enables the MinHash/LSH pass.
	NearDup bool `yaml:"near_dup"`

	// NearDupPolicy is "drop" or "log_only".
	NearDupPolicy string `yaml:"near_dup_policy" validate:"omitempty,oneof=drop log_only"`

	// SimilarityThreshold is the estimated Jaccard similarity above which a
	// record is considered a near-duplicate.
	SimilarityThreshold float64 `yaml:"similarity_threshold" validate:"gte=0,lte=1"`

	ShingleSize  int `yaml:"shingle_size" validate:"gte=0"`
	NumHashFuncs int `yaml:"num_hash_funcs" validate:"gte=0"`
	NumBands     int `yaml:"num_bands" validate:"gte=0"`
}

// ShardConfig bounds output shard files.
type ShardConfig struct {
	MaxRecordsPerShard int   `yaml:"max_records_per_shard" validate:"gt=0"`
	MaxShardBytes      int64 `yaml:"max_shard_bytes" validate:"gt=0"`
	Gzip               bool  `yaml:"gzip"`
}

// EvidenceConfig bounds evidence fetching.
type EvidenceConfig struct {
	MaxBytes    int64         `yaml:"max_bytes" validate:"gt=0"`
	Timeout     time.Duration `yaml:"timeout" validate:"gt=0"`
	PDFMaxPages int           `yaml:"pdf_max_pages" validate:"gt=0"`
}

// ClassifierConfig carries run-level classifier settings.
type ClassifierConfig struct {
	// ConfidenceThreshold names the minimum SPDX resolution confidence for
	// auto-promotion: "low", "medium", or "high".
	ConfidenceThreshold string `yaml:"confidence_threshold" validate:"omitempty,oneof=low medium high"`
}

// AcquireConfig carries run-level acquisition settings.
type AcquireConfig struct {
	Workers int `yaml:"workers" validate:"gt=0"`

	// RatePerSecond and Burst configure each resolver's token bucket.
	RatePerSecond float64 `yaml:"rate_per_second" validate:"gt=0"`
	Burst         int     `yaml:"burst" validate:"gt=0"`

	MaxAttempts int           `yaml:"max_attempts" validate:"gt=0"`
	MaxElapsed  time.Duration `yaml:"max_elapsed" validate:"gt=0"`

	// MaxDecompressionRatio is the archive expansion ratio above which
	// extraction aborts with a security violation.
	MaxDecompressionRatio float64 `yaml:"max_decompression_ratio" validate:"gt=0"`
}

// Config is the validated, normalized run configuration.
type Config struct {
	OutputDir string `yaml:"output_dir" validate:"required"`

	Targets []Target `yaml:"targets" validate:"required,min=1,dive"`

	Evidence   EvidenceConfig   `yaml:"evidence"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Acquire    AcquireConfig    `yaml:"acquire"`
	Dedup      DedupConfig      `yaml:"dedup"`
	Shards     ShardConfig      `yaml:"shards"`

	// PolicyFile optionally overrides the embedded classification policy.
	PolicyFile string `yaml:"policy_file"`
}
