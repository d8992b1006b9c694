// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline wires the collection stages together: classify,
// acquire, screen, merge, catalog. Each stage is callable on its own;
// Run executes them in order with done-marker resume.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/FoilMiser/Dataset-Collector-sub001/services/collector/acquire"
	"github.com/FoilMiser/Dataset-Collector-sub001/services/collector/config"
	"github.com/FoilMiser/Dataset-Collector-sub001/services/collector/dedup"
	"github.com/FoilMiser/Dataset-Collector-sub001/services/collector/evidence"
	"github.com/FoilMiser/Dataset-Collector-sub001/services/collector/license"
	"github.com/FoilMiser/Dataset-Collector-sub001/services/collector/policy"
	"github.com/FoilMiser/Dataset-Collector-sub001/services/collector/runctx"
	"github.com/FoilMiser/Dataset-Collector-sub001/services/collector/screen"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("collector.pipeline")

const classificationFileName = "classification.json"

// Runner executes pipeline stages against one run root.
//
// Thread Safety: stages serialize internally; one Runner may not run the
// same stage concurrently with itself.
type Runner struct {
	cfg    *config.Config
	rc     *runctx.RunContext
	policy *policy.Set

	store      *evidence.Store
	fetcher    *evidence.Fetcher
	classifier *license.Classifier
	binder     *license.Binder
	dispatcher *acquire.Dispatcher
	canon      *screen.Canonicalizer

	logger *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithStrategies replaces the default acquisition strategy registry.
func WithStrategies(registry *acquire.Registry) Option {
	return func(r *Runner) {
		r.dispatcher = acquire.NewDispatcher(r.rc, registry, r.destDir,
			acquire.WithWorkers(r.cfg.Acquire.Workers),
			acquire.WithRetryConfig(r.retryConfig()),
			acquire.WithExtractConfig(acquire.ExtractConfig{
				MaxRatio: int64(r.cfg.Acquire.MaxDecompressionRatio),
			}),
		)
	}
}

// WithChecks replaces the content check registry used by screening.
func WithChecks(checks *screen.CheckRegistry) Option {
	return func(r *Runner) {
		r.canon = screen.NewCanonicalizer(r.policy, checks, r.logger)
	}
}

// New creates a Runner over cfg, rooted at cfg.OutputDir.
func New(cfg *config.Config, opts ...Option) (*Runner, error) {
	initMetrics()

	rc, err := runctx.New(cfg.OutputDir,
		runctx.WithRateLimit(cfg.Acquire.RatePerSecond, cfg.Acquire.Burst))
	if err != nil {
		return nil, err
	}

	var set *policy.Set
	if cfg.PolicyFile != "" {
		set, err = policy.NewSetFromFile(cfg.PolicyFile)
	} else {
		set, err = policy.NewSet()
	}
	if err != nil {
		return nil, fmt.Errorf("load classification policy: %w", err)
	}

	r := &Runner{
		cfg:    cfg,
		rc:     rc,
		policy: set,
		logger: rc.Logger,
	}
	r.store = evidence.NewStore(rc.Paths.Manifests)
	r.fetcher = evidence.NewFetcher(r.store, cfg.Evidence, evidence.WithLogger(r.logger))
	r.classifier = license.NewClassifier(set,
		policy.Confidence(cfg.Classifier.ConfidenceThreshold), r.logger)
	r.binder = license.NewBinder(rc.Paths.Manifests)
	r.canon = screen.NewCanonicalizer(set, nil, r.logger)

	registry := acquire.NewRegistry()
	if err := registry.Register(acquire.NewHTTPStrategy()); err != nil {
		return nil, err
	}
	WithStrategies(registry)(r)

	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// RunContext exposes the run-scoped state, primarily for status and
// signoff tooling built on top of the Runner.
func (r *Runner) RunContext() *runctx.RunContext { return r.rc }

// Binder exposes the signoff binder.
func (r *Runner) Binder() *license.Binder { return r.binder }

// EvidenceStore exposes the evidence snapshot store.
func (r *Runner) EvidenceStore() *evidence.Store { return r.store }

// LoadClassification returns the stored result for a target, or (nil, nil)
// when the target has not been classified.
func (r *Runner) LoadClassification(targetID string) (*license.Result, error) {
	return r.loadClassification(targetID)
}

func (r *Runner) retryConfig() acquire.RetryConfig {
	retry := acquire.DefaultRetryConfig()
	if r.cfg.Acquire.MaxAttempts > 0 {
		retry.MaxAttempts = r.cfg.Acquire.MaxAttempts
	}
	if r.cfg.Acquire.MaxElapsed > 0 {
		retry.MaxElapsed = r.cfg.Acquire.MaxElapsed
	}
	return retry
}

// destDir routes a target's payload into its pool directory.
func (r *Runner) destDir(target config.Target) string {
	pool := dedup.RoutePool(target.Profile, target.PoolHint)
	return r.rc.Paths.Raw(string(pool), target.ID)
}

// enabledTargets returns the enabled targets sorted by ID, the canonical
// processing order for deterministic artifacts.
func (r *Runner) enabledTargets() []config.Target {
	targets := r.cfg.EnabledTargets()
	sort.Slice(targets, func(i, j int) bool { return targets[i].ID < targets[j].ID })
	return targets
}

// saveClassification persists a result atomically into the target's
// manifest directory.
func (r *Runner) saveClassification(res *license.Result) error {
	dir := r.rc.Paths.Manifests(res.TargetID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create manifest directory: %w", err)
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal classification: %w", err)
	}
	return atomicWrite(dir, classificationFileName, data)
}

// loadClassification returns the stored result, or (nil, nil) when the
// target has not been classified.
func (r *Runner) loadClassification(targetID string) (*license.Result, error) {
	data, err := os.ReadFile(filepath.Join(r.rc.Paths.Manifests(targetID), classificationFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read classification: %w", err)
	}
	var res license.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("unmarshal classification: %w", err)
	}
	return &res, nil
}

func atomicWrite(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, "."+name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
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
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("rename %s: %w", name, err)
	}
	success = true
	return nil
}

// Classify fetches evidence for every enabled target in parallel and
// classifies each against its stored signoff. Ledger output is ordered
// by target ID regardless of fetch completion order.
func (r *Runner) Classify(ctx context.Context) ([]*license.Result, error) {
	ctx, span := tracer.Start(ctx, "pipeline.classify")
	defer span.End()

	targets := r.enabledTargets()
	outcomes := make([]*evidence.Outcome, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Acquire.Workers)
	for i, target := range targets {
		i, target := i, target
		g.Go(func() error {
			out, err := r.fetcher.Fetch(gctx, target)
			if err != nil {
				return fmt.Errorf("evidence for %s: %w", target.ID, err)
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ledger, err := r.openLedger("classification")
	if err != nil {
		return nil, err
	}
	defer ledger.Close()

	results := make([]*license.Result, len(targets))
	for i, target := range targets {
		signoff, err := r.binder.Load(target.ID)
		if err != nil {
			return nil, err
		}
		res := r.classifier.Classify(ctx, target, outcomes[i], signoff)
		results[i] = res
		targetsClassified.WithLabelValues(string(res.Bucket)).Inc()

		if err := r.saveClassification(res); err != nil {
			return nil, err
		}
		if err := ledger.Append(classificationEvent{
			Event:  "classified",
			RunID:  r.rc.RunID,
			Result: res,
		}); err != nil {
			return nil, err
		}
	}
	return results, nil
}

type classificationEvent struct {
	Event  string          `json:"event"`
	RunID  string          `json:"run_id"`
	Result *license.Result `json:"result"`
}
