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

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/FoilMiser/Dataset-Collector-sub001/services/collector/config"
	"github.com/FoilMiser/Dataset-Collector-sub001/services/collector/runctx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("collector.acquire")

const manifestFileName = "acquisition.json"

// Outcome is the result of acquiring one target. Failures are isolated:
// one target's error never aborts another's download.
type Outcome struct {
	TargetID string
	Payload  *RawPayload
	Err      error
}

// DestDirFunc resolves a target to the directory its payload lands in.
type DestDirFunc func(target config.Target) string

// Dispatcher fans acquisition out over a bounded worker pool with one
// token bucket per resolver key.
//
// Thread Safety: safe for concurrent use after construction.
type Dispatcher struct {
	rc       *runctx.RunContext
	registry *Registry
	destDir  DestDirFunc
	retry    RetryConfig
	extract  ExtractConfig
	workers  int
	logger   *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithWorkers bounds the concurrent download count.
func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithRetryConfig overrides the retry defaults.
func WithRetryConfig(cfg RetryConfig) DispatcherOption {
	return func(d *Dispatcher) { d.retry = cfg }
}

// WithExtractConfig overrides the archive extraction bounds.
func WithExtractConfig(cfg ExtractConfig) DispatcherOption {
	return func(d *Dispatcher) { d.extract = cfg }
}

// NewDispatcher creates a Dispatcher. destDir resolves each target to its
// payload directory (pool-routed runctx.Paths.Raw).
func NewDispatcher(rc *runctx.RunContext, registry *Registry, destDir DestDirFunc, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		rc:       rc,
		registry: registry,
		destDir:  destDir,
		retry:    DefaultRetryConfig(),
		extract:  ExtractConfig{MaxRatio: 100},
		workers:  8,
		logger:   rc.Logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run acquires every target and returns one Outcome per target, in input
// order. The returned error is non-nil only on context cancellation;
// per-target failures live in their Outcome.
func (d *Dispatcher) Run(ctx context.Context, targets []config.Target) ([]Outcome, error) {
	ctx, span := tracer.Start(ctx, "acquire.run")
	span.SetAttributes(attribute.Int("target.count", len(targets)))
	defer span.End()

	outcomes := make([]Outcome, len(targets))
	g := new(errgroup.Group)
	g.SetLimit(d.workers)

	for i, target := range targets {
		i, target := i, target
		g.Go(func() error {
			outcomes[i] = d.acquireOne(ctx, target)
			return nil
		})
	}
	// Workers never return errors into the group; Wait only gathers.
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

func (d *Dispatcher) acquireOne(ctx context.Context, target config.Target) Outcome {
	out := Outcome{TargetID: target.ID}

	strategy, err := d.registry.Resolve(target.Acquisition.Strategy)
	if err != nil {
		out.Err = err
		return out
	}

	limiter := d.rc.Limiter(target.Acquisition.ResolverKey)
	req := Request{Target: target, DestDir: d.destDir(target)}

	err = Retry(ctx, d.retry, func(ctx context.Context, attempt int) error {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		if attempt > 1 {
			d.logger.Debug("acquisition retry",
				slog.String("target_id", target.ID),
				slog.Int("attempt", attempt),
			)
		}
		payload, err := strategy.Acquire(ctx, req)
		if err != nil {
			return err
		}
		out.Payload = payload
		return nil
	})
	if err != nil {
		out.Err = err
		d.logger.Warn("acquisition failed",
			slog.String("target_id", target.ID),
			slog.String("error", err.Error()),
		)
		return out
	}

	if IsArchive(out.Payload.Path) {
		extractDir := filepath.Join(req.DestDir, "extracted")
		if err := Extract(out.Payload.Path, extractDir, d.extract); err != nil {
			out.Payload = nil
			out.Err = fmt.Errorf("extract %s: %w", target.ID, err)
			return out
		}
	}

	if err := d.writeManifest(target.ID, out.Payload); err != nil {
		out.Payload = nil
		out.Err = err
	}
	return out
}

// writeManifest records the completed acquisition atomically so re-runs
// can skip already-acquired targets.
func (d *Dispatcher) writeManifest(targetID string, payload *RawPayload) error {
	dir := d.rc.Paths.Manifests(targetID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create manifest directory: %w", err)
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal acquisition manifest: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".acquisition-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp manifest: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close manifest: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, manifestFileName)); err != nil {
		return fmt.Errorf("rename manifest: %w", err)
	}
	success = true
	return nil
}

// LoadManifest returns the stored acquisition manifest for a target, or
// (nil, nil) when the target has not been acquired.
func (d *Dispatcher) LoadManifest(targetID string) (*RawPayload, error) {
	data, err := os.ReadFile(filepath.Join(d.rc.Paths.Manifests(targetID), manifestFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read acquisition manifest: %w", err)
	}
	var payload RawPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal acquisition manifest: %w", err)
	}
	return &payload, nil
}
