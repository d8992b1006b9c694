// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package runctx scopes shared mutable state (rate limiters, output layout,
// clock) to a single run. Every component receives a *RunContext explicitly
// instead of reaching for process-wide singletons, so concurrent runs and
// tests stay isolated.
package runctx

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Paths lays out the append-only output tree for one run root.
type Paths struct {
	Root string
}

// Raw is where acquisition drops payload files for a target.
func (p Paths) Raw(pool, targetID string) string {
	return filepath.Join(p.Root, "raw", pool, targetID)
}

// ScreenedShards holds per-pool shard files produced by screening.
func (p Paths) ScreenedShards(pool string) string {
	return filepath.Join(p.Root, "screened", pool, "shards")
}

// CombinedShards holds per-pool shard files produced by the merge stage.
func (p Paths) CombinedShards(pool string) string {
	return filepath.Join(p.Root, "combined", pool, "shards")
}

// Ledger holds the append-only audit logs.
func (p Paths) Ledger() string {
	return filepath.Join(p.Root, "_ledger")
}

// Manifests holds per-target metadata: evidence snapshots, signoffs,
// done markers, acquisition manifests.
func (p Paths) Manifests(targetID string) string {
	return filepath.Join(p.Root, "_manifests", targetID)
}

// Catalogs holds run summary artifacts.
func (p Paths) Catalogs() string {
	return filepath.Join(p.Root, "_catalogs")
}

// DedupIndex is the directory backing the persistent content-hash index.
func (p Paths) DedupIndex() string {
	return filepath.Join(p.Root, "_index", "dedup")
}

// RunContext carries per-run shared state.
//
// Thread Safety: safe for concurrent use; the limiter registry is guarded
// internally.
type RunContext struct {
	// RunID uniquely identifies this run in ledger entries.
	RunID string

	Logger *slog.Logger
	Paths  Paths

	// Now is the clock, injectable for tests.
	Now func() time.Time

	ratePerSecond float64
	burst         int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// Option configures a RunContext.
type Option func(*RunContext)

// WithLogger sets the logger. Nil means slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(rc *RunContext) {
		if logger != nil {
			rc.Logger = logger
		}
	}
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(rc *RunContext) {
		if now != nil {
			rc.Now = now
		}
	}
}

// WithRateLimit sets the per-resolver token bucket parameters.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(rc *RunContext) {
		if perSecond > 0 {
			rc.ratePerSecond = perSecond
		}
		if burst > 0 {
			rc.burst = burst
		}
	}
}

// New creates a RunContext rooted at dir, creating the shared output
// directories. Per-pool and per-target subdirectories are created lazily by
// the components that own them.
func New(root string, opts ...Option) (*RunContext, error) {
	rc := &RunContext{
		RunID:         uuid.NewString(),
		Logger:        slog.Default(),
		Paths:         Paths{Root: root},
		Now:           time.Now,
		ratePerSecond: 2,
		burst:         4,
		limiters:      make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(rc)
	}

	for _, dir := range []string{
		rc.Paths.Ledger(),
		rc.Paths.Catalogs(),
		filepath.Join(root, "_manifests"),
	} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create run directory %s: %w", dir, err)
		}
	}
	return rc, nil
}

// Limiter returns the token bucket for a resolver key, creating it on first
// use. All targets sharing a resolver key share one bucket.
func (rc *RunContext) Limiter(key string) *rate.Limiter {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	lim, ok := rc.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(rc.ratePerSecond), rc.burst)
		rc.limiters[key] = lim
	}
	return lim
}
