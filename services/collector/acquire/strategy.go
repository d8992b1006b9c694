// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package acquire downloads raw payloads for classified targets. Every
// strategy honors the same contract: pinned-integrity verification,
// bounded retries, per-resolver rate limiting, and refusal to touch
// private address space.
package acquire

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/FoilMiser/Dataset-Collector-sub001/services/collector/config"
)

// Request describes one acquisition to perform.
type Request struct {
	Target config.Target

	// DestDir is the directory raw payload files land in
	// (runctx.Paths.Raw for the target's pool).
	DestDir string
}

// RawPayload describes a completed acquisition on disk.
type RawPayload struct {
	TargetID string `json:"target_id"`

	// Path is the final payload location under DestDir.
	Path string `json:"path"`

	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`

	// SourceURL is the final URL after redirects.
	SourceURL string `json:"source_url"`

	FetchedAt time.Time `json:"fetched_at"`

	// Resumed reports whether a partial download was continued.
	Resumed bool `json:"resumed"`
}

// Strategy acquires the raw payload for one target.
//
// Implementations must be safe for concurrent use: the dispatcher calls
// one Strategy instance from many workers.
type Strategy interface {
	Name() string
	Acquire(ctx context.Context, req Request) (*RawPayload, error)
}

// Registry resolves strategy names from target configuration to
// implementations. Registration happens at startup; lookups race-free
// afterwards.
//
// Thread Safety: safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// Register adds a strategy under its name. Registering a duplicate name
// is an error rather than a silent override.
func (r *Registry) Register(s Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.strategies[s.Name()]; exists {
		return fmt.Errorf("strategy %q already registered", s.Name())
	}
	r.strategies[s.Name()] = s
	return nil
}

// Resolve returns the strategy registered under name.
func (r *Registry) Resolve(name string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
	return s, nil
}

// Names returns the registered strategy names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
