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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(3), func(ctx context.Context, attempt int) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_SecurityViolationStopsImmediately(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(5), func(ctx context.Context, attempt int) error {
		calls++
		return ErrBlockedAddress
	})
	require.ErrorIs(t, err, ErrBlockedAddress)
	assert.Equal(t, 1, calls)
}

func TestRetry_ExhaustionWrapsLastError(t *testing.T) {
	sentinel := errors.New("flaky upstream")
	err := Retry(context.Background(), fastRetryConfig(3), func(ctx context.Context, attempt int) error {
		return sentinel
	})
	require.ErrorIs(t, err, ErrAttemptsExhausted)
	assert.ErrorIs(t, err, sentinel)
}

func TestRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, fastRetryConfig(3), func(ctx context.Context, attempt int) error {
		t.Fatal("attempt must not run on canceled context")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetry_MaxElapsedCeiling(t *testing.T) {
	cfg := fastRetryConfig(100)
	cfg.MaxElapsed = 10 * time.Millisecond
	cfg.InitialBackoff = 5 * time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond

	calls := 0
	err := Retry(context.Background(), cfg, func(ctx context.Context, attempt int) error {
		calls++
		return errors.New("always failing")
	})
	require.ErrorIs(t, err, ErrAttemptsExhausted)
	assert.Less(t, calls, 100)
}

func TestNextBackoff_CapsAtMax(t *testing.T) {
	assert.Equal(t, 2*time.Second, nextBackoff(time.Second, 2.0, 30*time.Second))
	assert.Equal(t, 30*time.Second, nextBackoff(20*time.Second, 2.0, 30*time.Second))
}

func TestCalculateBackoff_JitterBounds(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 50; i++ {
		got := calculateBackoff(base, 0.2)
		assert.GreaterOrEqual(t, got, 80*time.Millisecond)
		assert.LessOrEqual(t, got, 120*time.Millisecond)
	}
	assert.Equal(t, base, calculateBackoff(base, 0))
}
