// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package evidence retrieves and snapshots license/ToS evidence for targets,
// keeps an append-only snapshot history, and detects content changes between
// fetches. A failed fetch is an explicit "unavailable" outcome, never a
// thrown error, so the classifier can apply its conservative default.
package evidence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/FoilMiser/Dataset-Collector-sub001/services/collector/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("collector.evidence")

// redactedHeaders are never persisted with their real values.
var redactedHeaders = map[string]bool{
	"Authorization":       true,
	"Proxy-Authorization": true,
	"Cookie":              true,
	"Set-Cookie":          true,
}

// keptHeaders are the response headers worth keeping in the snapshot.
var keptHeaders = []string{
	"Content-Type", "Content-Length", "Last-Modified", "Etag", "Server", "Set-Cookie",
}

// Fetcher retrieves evidence snapshots bounded by size and timeout.
//
// Thread Safety: safe for concurrent use.
type Fetcher struct {
	client      *http.Client
	store       *Store
	maxBytes    int64
	pdfMaxPages int
	logger      *slog.Logger
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient overrides the HTTP client (tests inject a stub here).
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) FetcherOption {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewFetcher creates a Fetcher writing snapshots through store.
func NewFetcher(store *Store, cfg config.EvidenceConfig, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client:      &http.Client{Timeout: cfg.Timeout},
		store:       store,
		maxBytes:    cfg.MaxBytes,
		pdfMaxPages: cfg.PDFMaxPages,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch retrieves the target's evidence and stores a snapshot.
//
// Outputs:
//
//	*Outcome - Always non-nil: either a stored snapshot or an unavailable
//	           marker with a reason code.
//	error - Non-nil only when the snapshot store itself fails; fetch and
//	        extraction failures are reported through the Outcome.
func (f *Fetcher) Fetch(ctx context.Context, target config.Target) (*Outcome, error) {
	ctx, span := tracer.Start(ctx, "evidence.fetch")
	span.SetAttributes(attribute.String("target.id", target.ID))
	defer span.End()

	if target.EvidenceURL == "" {
		return &Outcome{Unavailable: true, Reason: ReasonNoEvidenceURL}, nil
	}

	raw, headers, reason := f.download(ctx, target.EvidenceURL)
	if reason != "" {
		f.logger.Warn("evidence unavailable",
			slog.String("target_id", target.ID),
			slog.String("reason", reason),
		)
		return &Outcome{Unavailable: true, Reason: reason}, nil
	}

	text, err := extractText(raw, headers["Content-Type"], f.pdfMaxPages)
	if err != nil {
		f.logger.Warn("evidence extraction failed",
			slog.String("target_id", target.ID),
			slog.String("error", err.Error()),
		)
		return &Outcome{Unavailable: true, Reason: ReasonExtractFailed}, nil
	}

	rawSum := sha256.Sum256(raw)
	textSum := sha256.Sum256([]byte(text))

	snap := &Snapshot{
		TargetID:   target.ID,
		SourceURL:  target.EvidenceURL,
		FetchedAt:  nowUTC(),
		Raw:        raw,
		Text:       text,
		RawSHA256:  hex.EncodeToString(rawSum[:]),
		TextSHA256: hex.EncodeToString(textSum[:]),
		Headers:    headers,
	}

	if prev, ok := f.store.LastRawSHA256(target.ID); ok {
		snap.ChangedFromPrevious = prev != snap.RawSHA256
	}

	if err := f.store.Put(snap); err != nil {
		return nil, fmt.Errorf("store evidence snapshot for %s: %w", target.ID, err)
	}

	f.logger.Info("evidence snapshot stored",
		slog.String("target_id", target.ID),
		slog.String("raw_sha256", snap.RawSHA256[:12]),
		slog.Bool("changed", snap.ChangedFromPrevious),
	)
	return &Outcome{Snapshot: snap}, nil
}

// download fetches the URL, enforcing the byte cap. Returns a reason code
// instead of an error so callers map failures to the unavailable outcome.
func (f *Fetcher) download(ctx context.Context, url string) ([]byte, map[string]string, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, ReasonFetchFailed
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, nil, ReasonTimeout
		}
		return nil, nil, ReasonFetchFailed
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, ReasonHTTPStatus
	}

	// Read one byte past the cap to distinguish "exactly at cap" from
	// "over cap".
	raw, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, nil, ReasonFetchFailed
	}
	if int64(len(raw)) > f.maxBytes {
		return nil, nil, ReasonTooLarge
	}

	return raw, redact(resp.Header), ""
}

// redact keeps a stable subset of response headers with credential values
// replaced, never dropped silently, so audits can see a credential was set.
func redact(h http.Header) map[string]string {
	out := make(map[string]string, len(keptHeaders))
	for _, name := range keptHeaders {
		v := h.Get(name)
		if v == "" {
			continue
		}
		if redactedHeaders[http.CanonicalHeaderKey(name)] {
			v = "[redacted]"
		}
		out[name] = v
	}
	// Never let a credential header slip through under a kept name.
	for name := range redactedHeaders {
		if h.Get(name) != "" {
			out[name] = "[redacted]"
		}
	}
	return out
}

// timeNow is indirected for tests.
var timeNow = time.Now

func nowUTC() time.Time { return timeNow().UTC() }
