// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/FoilMiser/Dataset-Collector-sub001/services/collector/acquire"
	"github.com/FoilMiser/Dataset-Collector-sub001/services/collector/catalog"
	"github.com/FoilMiser/Dataset-Collector-sub001/services/collector/config"
	"github.com/FoilMiser/Dataset-Collector-sub001/services/collector/dedup"
	"github.com/FoilMiser/Dataset-Collector-sub001/services/collector/screen"
	"github.com/FoilMiser/Dataset-Collector-sub001/services/collector/shard"
)

func (r *Runner) openLedger(name string) (*shard.Ledger, error) {
	return shard.OpenLedger(r.rc.Paths.Ledger(), name)
}

// proceedTargets returns the enabled targets whose stored classification
// allows them past the bucket decision, in ID order. Targets without a
// stored classification are skipped with a log line, never promoted.
func (r *Runner) proceedTargets() ([]config.Target, error) {
	var out []config.Target
	for _, target := range r.enabledTargets() {
		res, err := r.loadClassification(target.ID)
		if err != nil {
			return nil, err
		}
		if res == nil {
			r.logger.Warn("target has no classification; skipping",
				slog.String("target_id", target.ID))
			continue
		}
		if !res.State.MayProceed() {
			r.logger.Info("target held back by classification",
				slog.String("target_id", target.ID),
				slog.String("state", string(res.State)))
			continue
		}
		out = append(out, target)
	}
	return out, nil
}

// Acquire downloads payloads for every target cleared to proceed.
// Per-target failures are recorded in the acquisition ledger and do not
// abort the stage.
func (r *Runner) Acquire(ctx context.Context) ([]acquire.Outcome, error) {
	ctx, span := tracer.Start(ctx, "pipeline.acquire")
	defer span.End()

	targets, err := r.proceedTargets()
	if err != nil {
		return nil, err
	}

	ledger, err := r.openLedger("acquisition")
	if err != nil {
		return nil, err
	}
	defer ledger.Close()

	// Skip targets whose stored manifest already matches the pinned
	// expectation; re-acquisition is wasted bandwidth, not safety.
	var pending []config.Target
	var outcomes []acquire.Outcome
	for _, target := range targets {
		manifest, err := r.dispatcher.LoadManifest(target.ID)
		if err != nil {
			return nil, err
		}
		if manifest != nil && (target.Acquisition.ExpectedSHA256 == "" ||
			manifest.SHA256 == target.Acquisition.ExpectedSHA256) {
			outcomes = append(outcomes, acquire.Outcome{TargetID: target.ID, Payload: manifest})
			continue
		}
		pending = append(pending, target)
	}

	acquired, err := r.dispatcher.Run(ctx, pending)
	if err != nil {
		return nil, err
	}
	outcomes = append(outcomes, acquired...)

	for _, out := range acquired {
		event := map[string]any{
			"event":     "acquired",
			"run_id":    r.rc.RunID,
			"target_id": out.TargetID,
		}
		status := "ok"
		if out.Err != nil {
			event["event"] = "acquisition_failed"
			event["error"] = out.Err.Error()
			status = "failed"
			if acquire.IsSecurityViolation(out.Err) {
				status = "blocked"
				event["event"] = "acquisition_blocked"
			}
		} else {
			event["sha256"] = out.Payload.SHA256
			event["size"] = out.Payload.Size
		}
		acquisitions.WithLabelValues(status).Inc()
		if err := ledger.Append(event); err != nil {
			return nil, err
		}
	}
	r.logger.Info("acquire stage complete",
		slog.Int("acquired", len(acquired)),
		slog.Int("reused", len(outcomes)-len(acquired)))
	return outcomes, nil
}

// ScreenStats summarizes one screening stage.
type ScreenStats struct {
	Records int
	Pitches int
	Skipped int
}

// Screen canonicalizes every acquired payload into per-pool screened
// shards. A target whose done marker matches its payload hash is skipped
// wholesale.
func (r *Runner) Screen(ctx context.Context) (*ScreenStats, error) {
	ctx, span := tracer.Start(ctx, "pipeline.screen")
	defer span.End()

	targets, err := r.proceedTargets()
	if err != nil {
		return nil, err
	}

	pitchLedger, err := r.openLedger("pitch")
	if err != nil {
		return nil, err
	}
	defer pitchLedger.Close()

	writers := make(map[dedup.Pool]*shard.Writer)
	writerFor := func(pool dedup.Pool) (*shard.Writer, error) {
		if w, ok := writers[pool]; ok {
			return w, nil
		}
		w, err := shard.NewWriter(r.rc.Paths.ScreenedShards(string(pool)), shard.Config{
			MaxRecords: r.cfg.Shards.MaxRecordsPerShard,
			MaxBytes:   r.cfg.Shards.MaxShardBytes,
			Gzip:       r.cfg.Shards.Gzip,
		})
		if err != nil {
			return nil, err
		}
		writers[pool] = w
		return w, nil
	}
	closeWriters := func() error {
		var firstErr error
		for _, w := range writers {
			if err := w.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	stats := &ScreenStats{}
	for _, target := range targets {
		payload, err := r.dispatcher.LoadManifest(target.ID)
		if err != nil {
			closeWriters()
			return nil, err
		}
		if payload == nil {
			r.logger.Warn("target has no acquired payload; skipping",
				slog.String("target_id", target.ID))
			continue
		}

		manifestDir := r.rc.Paths.Manifests(target.ID)
		done, err := shard.DoneMatches(manifestDir, "screen", payload.SHA256)
		if err != nil {
			closeWriters()
			return nil, err
		}
		if done {
			stats.Skipped++
			continue
		}

		res, err := r.loadClassification(target.ID)
		if err != nil {
			closeWriters()
			return nil, err
		}
		pool := dedup.RoutePool(target.Profile, target.PoolHint)
		lic := screen.License{ResolvedSPDX: res.ResolvedSPDX, Pool: string(pool)}

		records, pitches, err := r.canon.ScreenPayload(ctx, payload, target, lic)
		if err != nil {
			closeWriters()
			return nil, fmt.Errorf("screen %s: %w", target.ID, err)
		}

		w, err := writerFor(pool)
		if err != nil {
			closeWriters()
			return nil, err
		}
		for _, record := range records {
			if err := w.Append(record); err != nil {
				closeWriters()
				return nil, err
			}
			recordsScreened.WithLabelValues("pass").Inc()
		}
		for _, pitch := range pitches {
			if err := pitchLedger.Append(pitch); err != nil {
				closeWriters()
				return nil, err
			}
			recordsScreened.WithLabelValues(pitch.Reason).Inc()
		}
		stats.Records += len(records)
		stats.Pitches += len(pitches)

		if err := shard.WriteDone(manifestDir, "screen", payload.SHA256); err != nil {
			closeWriters()
			return nil, err
		}
	}
	r.logger.Info("screen stage complete",
		slog.Int("records", stats.Records),
		slog.Int("pitches", stats.Pitches),
		slog.Int("skipped", stats.Skipped))
	return stats, closeWriters()
}

// Merge streams every screened record through the dedup engine into
// combined per-pool shards. The persistent index makes re-merging
// idempotent: records admitted by earlier runs are recognized and
// skipped.
func (r *Runner) Merge(ctx context.Context) (*dedup.Stats, error) {
	ctx, span := tracer.Start(ctx, "pipeline.merge")
	defer span.End()

	index, err := dedup.OpenBadgerIndex(dedup.BadgerConfig{
		Path:   r.rc.Paths.DedupIndex(),
		Logger: r.logger,
	})
	if err != nil {
		return nil, err
	}
	defer index.Close()

	ledger, err := r.openLedger("merge")
	if err != nil {
		return nil, err
	}
	defer ledger.Close()

	merger := dedup.NewMerger(index, ledger, func(pool dedup.Pool) (*shard.Writer, error) {
		return shard.NewWriter(r.rc.Paths.CombinedShards(string(pool)), shard.Config{
			MaxRecords: r.cfg.Shards.MaxRecordsPerShard,
			MaxBytes:   r.cfg.Shards.MaxShardBytes,
			Gzip:       r.cfg.Shards.Gzip,
		})
	}, dedup.MergeConfig{
		NearDup:             r.cfg.Dedup.NearDup,
		Policy:              dedup.NearDupPolicy(r.cfg.Dedup.NearDupPolicy),
		SimilarityThreshold: r.cfg.Dedup.SimilarityThreshold,
		ShingleSize:         r.cfg.Dedup.ShingleSize,
		NumHashFuncs:        r.cfg.Dedup.NumHashFuncs,
		NumBands:            r.cfg.Dedup.NumBands,
	}, r.logger)

	// The producer gets its own cancelable context: when the merge loop
	// fails mid-stream, cancel unblocks a producer stuck on a full channel
	// so the error propagates instead of deadlocking.
	gctx, cancel := context.WithCancel(ctx)
	defer cancel()

	records := make(chan *screen.CanonicalRecord, 64)
	errCh := make(chan error, 1)
	go func() {
		defer close(records)
		errCh <- r.streamScreened(gctx, records)
	}()

	stats, err := merger.Merge(ctx, records)
	if err != nil {
		cancel()
		<-errCh
		return stats, err
	}
	if err := <-errCh; err != nil {
		return stats, err
	}
	for pool, n := range stats.PerPool {
		recordsMerged.WithLabelValues(string(pool)).Add(float64(n))
	}
	r.logger.Info("merge stage complete",
		slog.Int("merged", stats.Merged),
		slog.Int("exact_dups", stats.ExactDups),
		slog.Int("near_dups", stats.NearDups))
	return stats, nil
}

// streamScreened feeds every record from the screened shards into out.
func (r *Runner) streamScreened(ctx context.Context, out chan<- *screen.CanonicalRecord) error {
	for _, pool := range []dedup.Pool{dedup.PoolPermissive, dedup.PoolCopyleft, dedup.PoolQuarantine} {
		paths, err := filepath.Glob(filepath.Join(
			r.rc.Paths.ScreenedShards(string(pool)), "shard-*.jsonl*"))
		if err != nil {
			return err
		}
		for _, path := range paths {
			if err := readShardRecords(path, func(record *screen.CanonicalRecord) error {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case out <- record:
					return nil
				}
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// BuildCatalog aggregates all stage outputs into one summary artifact.
func (r *Runner) BuildCatalog(ctx context.Context) (*catalog.Summary, string, error) {
	_, span := tracer.Start(ctx, "pipeline.catalog")
	defer span.End()
	return catalog.NewBuilder(r.rc).Build()
}

// Run executes the full pipeline: classify, acquire, screen, merge,
// catalog. Stages already completed for unchanged inputs are skipped via
// their done markers and the persistent dedup index.
func (r *Runner) Run(ctx context.Context) (*catalog.Summary, error) {
	if _, err := r.Classify(ctx); err != nil {
		return nil, fmt.Errorf("classify stage: %w", err)
	}
	if _, err := r.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("acquire stage: %w", err)
	}
	if _, err := r.Screen(ctx); err != nil {
		return nil, fmt.Errorf("screen stage: %w", err)
	}
	if _, err := r.Merge(ctx); err != nil {
		return nil, fmt.Errorf("merge stage: %w", err)
	}
	summary, _, err := r.BuildCatalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog stage: %w", err)
	}
	return summary, nil
}
