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
	"math/rand"
	"time"
)

// RetryConfig configures retry behavior with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	MaxAttempts int

	// InitialBackoff is the wait before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between retries.
	MaxBackoff time.Duration

	// MaxElapsed caps the total time across all attempts and waits.
	// Zero means no ceiling.
	MaxElapsed time.Duration

	// BackoffFactor is the multiplier for exponential backoff.
	BackoffFactor float64

	// JitterFactor is the maximum jitter as a fraction of backoff (0-1).
	JitterFactor float64
}

// DefaultRetryConfig returns the defaults used when a target does not
// override them.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		MaxElapsed:     10 * time.Minute,
		BackoffFactor:  2.0,
		JitterFactor:   0.2,
	}
}

// RetryableFunc is one acquisition attempt. attempt starts at 1.
type RetryableFunc func(ctx context.Context, attempt int) error

// retryable reports whether an error should trigger another attempt.
// Security violations never retry: retrying a blocked address is exactly
// the probing we refuse to do. Integrity mismatches do retry, after the
// strategy discards the partial file, to ride out transient corruption.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if IsSecurityViolation(err) {
		return false
	}
	if err == context.Canceled || err == context.DeadlineExceeded {
		return false
	}
	return true
}

// Retry executes fn with capped exponential backoff and jitter.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	config - Retry configuration.
//	fn - The attempt to execute.
//
// Outputs:
//
//	error - nil on success; the last attempt error otherwise, wrapped
//	        under ErrAttemptsExhausted when every attempt failed.
func Retry(ctx context.Context, config RetryConfig, fn RetryableFunc) error {
	start := time.Now()
	backoff := config.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if config.MaxElapsed > 0 && time.Since(start) > config.MaxElapsed {
			break
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(err) {
			return err
		}
		if attempt == config.MaxAttempts {
			break
		}

		waitTime := calculateBackoff(backoff, config.JitterFactor)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}
		backoff = nextBackoff(backoff, config.BackoffFactor, config.MaxBackoff)
	}

	return &exhaustedError{last: lastErr}
}

type exhaustedError struct {
	last error
}

func (e *exhaustedError) Error() string {
	return ErrAttemptsExhausted.Error() + ": " + e.last.Error()
}

func (e *exhaustedError) Unwrap() error { return e.last }

func (e *exhaustedError) Is(target error) bool { return target == ErrAttemptsExhausted }

// calculateBackoff applies jitter: [base*(1-jitter), base*(1+jitter)].
func calculateBackoff(base time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return base
	}
	jitter := (rand.Float64()*2 - 1) * jitterFactor
	return time.Duration(float64(base) * (1.0 + jitter))
}

func nextBackoff(current time.Duration, factor float64, max time.Duration) time.Duration {
	next := time.Duration(float64(current) * factor)
	if next > max {
		return max
	}
	return next
}
