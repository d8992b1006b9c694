// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config defines the declarative target list and run settings for
// the collector, with strict decoding: unknown or misnamed fields fail
// validation rather than being silently ignored.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrConfigInvalid wraps every validation failure so callers can map a
// broken target to the RED/config_invalid terminal state.
var ErrConfigInvalid = errors.New("config invalid")

// Load reads, strictly decodes, validates, and normalizes a config file.
//
// Decoding uses yaml KnownFields so a misspelled key is an error, not a
// silently-ignored default. Validation applies the struct tags plus
// cross-field rules that tags cannot express.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates raw config bytes. Split from Load for tests.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}

	cfg.applyDefaults()

	v := validator.New()
	if err := v.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	if err := cfg.crossValidate(); err != nil {
		return nil, err
	}
	cfg.normalize()
	return &cfg, nil
}

// applyDefaults fills zero values with run defaults before validation so the
// gt/gte tags act as sanity bounds on explicit settings, not on omissions.
func (c *Config) applyDefaults() {
	if c.Evidence.MaxBytes == 0 {
		c.Evidence.MaxBytes = 4 << 20
	}
	if c.Evidence.Timeout == 0 {
		c.Evidence.Timeout = 30 * time.Second
	}
	if c.Evidence.PDFMaxPages == 0 {
		c.Evidence.PDFMaxPages = 10
	}
	if c.Classifier.ConfidenceThreshold == "" {
		c.Classifier.ConfidenceThreshold = "medium"
	}
	if c.Acquire.Workers == 0 {
		c.Acquire.Workers = 8
	}
	if c.Acquire.RatePerSecond == 0 {
		c.Acquire.RatePerSecond = 2
	}
	if c.Acquire.Burst == 0 {
		c.Acquire.Burst = 4
	}
	if c.Acquire.MaxAttempts == 0 {
		c.Acquire.MaxAttempts = 3
	}
	if c.Acquire.MaxElapsed == 0 {
		c.Acquire.MaxElapsed = 10 * time.Minute
	}
	if c.Acquire.MaxDecompressionRatio == 0 {
		c.Acquire.MaxDecompressionRatio = 100
	}
	if c.Dedup.NearDupPolicy == "" {
		c.Dedup.NearDupPolicy = "drop"
	}
	if c.Dedup.SimilarityThreshold == 0 {
		c.Dedup.SimilarityThreshold = 0.85
	}
	if c.Dedup.ShingleSize == 0 {
		c.Dedup.ShingleSize = 4
	}
	if c.Dedup.NumHashFuncs == 0 {
		c.Dedup.NumHashFuncs = 128
	}
	if c.Dedup.NumBands == 0 {
		c.Dedup.NumBands = 32
	}
	if c.Shards.MaxRecordsPerShard == 0 {
		c.Shards.MaxRecordsPerShard = 100000
	}
	if c.Shards.MaxShardBytes == 0 {
		c.Shards.MaxShardBytes = 256 << 20
	}
	for i := range c.Targets {
		t := &c.Targets[i]
		if len(t.Screening.Selectors) == 0 {
			t.Screening.Selectors = []string{"text", "content", "body"}
		}
		if t.Screening.MinLength == 0 {
			t.Screening.MinLength = 32
		}
		if t.Screening.MaxLength == 0 {
			t.Screening.MaxLength = 1 << 20
		}
	}
}

// crossValidate enforces rules that span fields.
func (c *Config) crossValidate() error {
	seen := make(map[string]bool, len(c.Targets))
	for i := range c.Targets {
		t := &c.Targets[i]
		if seen[t.ID] {
			return fmt.Errorf("%w: duplicate target id %q", ErrConfigInvalid, t.ID)
		}
		seen[t.ID] = true

		if t.Screening.MaxLength < t.Screening.MinLength {
			return fmt.Errorf("%w: target %s: max_length < min_length", ErrConfigInvalid, t.ID)
		}
		if c.Dedup.NumHashFuncs%max(c.Dedup.NumBands, 1) != 0 {
			return fmt.Errorf("%w: num_hash_funcs must be divisible by num_bands", ErrConfigInvalid)
		}
	}
	return nil
}

// normalize fills derived fields after validation passes.
func (c *Config) normalize() {
	for i := range c.Targets {
		t := &c.Targets[i]
		if t.Acquisition.ResolverKey == "" {
			if u, err := url.Parse(t.Acquisition.URL); err == nil && u.Host != "" {
				t.Acquisition.ResolverKey = u.Host
			} else {
				t.Acquisition.ResolverKey = t.ID
			}
		}
	}
}

// EnabledTargets returns the enabled targets in config order.
func (c *Config) EnabledTargets() []Target {
	out := make([]Target, 0, len(c.Targets))
	for _, t := range c.Targets {
		if t.Enabled {
			out = append(out, t)
		}
	}
	return out
}
