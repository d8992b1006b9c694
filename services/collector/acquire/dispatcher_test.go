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
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/FoilMiser/Dataset-Collector-sub001/services/collector/config"
	"github.com/FoilMiser/Dataset-Collector-sub001/services/collector/runctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStrategy acquires without touching the network.
type fakeStrategy struct {
	name string
	fn   func(ctx context.Context, req Request) (*RawPayload, error)
}

func (f *fakeStrategy) Name() string { return f.name }
func (f *fakeStrategy) Acquire(ctx context.Context, req Request) (*RawPayload, error) {
	return f.fn(ctx, req)
}

func newTestDispatcher(t *testing.T, strategies ...Strategy) (*Dispatcher, *runctx.RunContext) {
	t.Helper()
	rc, err := runctx.New(t.TempDir(), runctx.WithRateLimit(1000, 1000))
	require.NoError(t, err)
	registry := NewRegistry()
	for _, s := range strategies {
		require.NoError(t, registry.Register(s))
	}
	destDir := func(target config.Target) string {
		return rc.Paths.Raw("permissive", target.ID)
	}
	d := NewDispatcher(rc, registry, destDir,
		WithWorkers(4),
		WithRetryConfig(RetryConfig{
			MaxAttempts:    2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
			BackoffFactor:  1.0,
		}),
	)
	return d, rc
}

func httpTarget(id, url string) config.Target {
	return config.Target{
		ID: id,
		Acquisition: config.AcquisitionConfig{
			Strategy:    StrategyHTTP,
			URL:         url,
			ResolverKey: "test",
		},
	}
}

func TestDispatcher_Run(t *testing.T) {
	body := []byte("payload body")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	d, _ := newTestDispatcher(t, NewHTTPStrategy(WithPrivateAddresses(true)))

	outcomes, err := d.Run(context.Background(), []config.Target{
		httpTarget("t1", srv.URL+"/a.txt"),
		httpTarget("t2", srv.URL+"/b.txt"),
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	for _, out := range outcomes {
		require.NoError(t, out.Err)
		require.NotNil(t, out.Payload)
		assert.Equal(t, sha256Hex(body), out.Payload.SHA256)
	}
	// Outcomes keep input order.
	assert.Equal(t, "t1", outcomes[0].TargetID)
	assert.Equal(t, "t2", outcomes[1].TargetID)
}

func TestDispatcher_UnknownStrategyIsolated(t *testing.T) {
	ok := &fakeStrategy{name: "ok", fn: func(ctx context.Context, req Request) (*RawPayload, error) {
		return &RawPayload{TargetID: req.Target.ID, Path: filepath.Join(req.DestDir, "x"), SHA256: "aa"}, nil
	}}
	d, _ := newTestDispatcher(t, ok)

	outcomes, err := d.Run(context.Background(), []config.Target{
		{ID: "bad", Acquisition: config.AcquisitionConfig{Strategy: "missing"}},
		{ID: "good", Acquisition: config.AcquisitionConfig{Strategy: "ok", ResolverKey: "r"}},
	})
	require.NoError(t, err)

	assert.ErrorIs(t, outcomes[0].Err, ErrUnknownStrategy)
	assert.Nil(t, outcomes[0].Payload)
	require.NoError(t, outcomes[1].Err)
	assert.Equal(t, "good", outcomes[1].Payload.TargetID)
}

func TestDispatcher_RetriesTransientFailure(t *testing.T) {
	calls := 0
	flaky := &fakeStrategy{name: "flaky", fn: func(ctx context.Context, req Request) (*RawPayload, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("transient")
		}
		return &RawPayload{TargetID: req.Target.ID, SHA256: "bb"}, nil
	}}
	d, _ := newTestDispatcher(t, flaky)

	outcomes, err := d.Run(context.Background(), []config.Target{
		{ID: "t1", Acquisition: config.AcquisitionConfig{Strategy: "flaky", ResolverKey: "r"}},
	})
	require.NoError(t, err)
	require.NoError(t, outcomes[0].Err)
	assert.Equal(t, 2, calls)
}

func TestDispatcher_ManifestRoundtrip(t *testing.T) {
	strat := &fakeStrategy{name: "ok", fn: func(ctx context.Context, req Request) (*RawPayload, error) {
		return &RawPayload{TargetID: req.Target.ID, Path: "p", SHA256: "cc", Size: 7}, nil
	}}
	d, _ := newTestDispatcher(t, strat)

	outcomes, err := d.Run(context.Background(), []config.Target{
		{ID: "t1", Acquisition: config.AcquisitionConfig{Strategy: "ok", ResolverKey: "r"}},
	})
	require.NoError(t, err)
	require.NoError(t, outcomes[0].Err)

	manifest, err := d.LoadManifest("t1")
	require.NoError(t, err)
	require.NotNil(t, manifest)
	assert.Equal(t, "cc", manifest.SHA256)
	assert.Equal(t, int64(7), manifest.Size)

	missing, err := d.LoadManifest("ghost")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDispatcher_SecurityViolationNotRetried(t *testing.T) {
	calls := 0
	blocked := &fakeStrategy{name: "blocked", fn: func(ctx context.Context, req Request) (*RawPayload, error) {
		calls++
		return nil, ErrBlockedAddress
	}}
	d, _ := newTestDispatcher(t, blocked)

	outcomes, err := d.Run(context.Background(), []config.Target{
		{ID: "t1", Acquisition: config.AcquisitionConfig{Strategy: "blocked", ResolverKey: "r"}},
	})
	require.NoError(t, err)
	assert.ErrorIs(t, outcomes[0].Err, ErrBlockedAddress)
	assert.Equal(t, 1, calls)
}
