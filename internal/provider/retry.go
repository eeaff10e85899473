// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"context"
	"image"
	"log/slog"
	"time"

	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

const maxBackoff = 30 * time.Second

// RetryPolicy bounds every external model call: each attempt gets its own
// Timeout and attempts are separated by exponential Backoff.
type RetryPolicy struct {
	Attempts int
	Timeout  time.Duration
	Backoff  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Timeout: 120 * time.Second, Backoff: time.Second}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultRetryPolicy().Timeout
	}
	if p.Backoff < 0 {
		p.Backoff = 0
	}
	return p
}

// delay is the wait after the given 1-based failed attempt.
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.Backoff
	for range attempt - 1 {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

// Call runs fn under policy. A non-nil health tracker records the final
// outcome. Exhausted attempts surface as a CallFailure for role, as does a
// single failure.
func Call[T any](ctx context.Context, policy RetryPolicy, role reelerr.Role, health *HealthTracker, fn func(context.Context) (T, error)) (T, error) {
	policy = policy.normalized()

	var zero T
	var lastErr error
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, policy.Timeout)
		v, err := fn(attemptCtx)
		cancel()
		if err == nil {
			if health != nil {
				health.RecordSuccess()
			}
			return v, nil
		}
		lastErr = err

		if ctx.Err() != nil || !retryable(err) || attempt == policy.Attempts {
			break
		}

		wait := policy.delay(attempt)
		slog.Debug("external call failed, retrying",
			"role", role, "attempt", attempt, "of", policy.Attempts, "backoff", wait, "error", err)
		if err := sleep(ctx, wait); err != nil {
			break
		}
	}

	if health != nil {
		health.RecordFailure(role, lastErr)
	}
	return zero, reelerr.CallFailure(role, lastErr)
}

// Invalid requests fail the same way on every attempt.
func retryable(err error) bool {
	return !reelerr.IsInvalidInput(err)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type retryDescriber struct {
	inner  Describer
	policy RetryPolicy
	health *HealthTracker
}

// WithRetryDescriber wraps d in the retry policy.
func WithRetryDescriber(d Describer, policy RetryPolicy, health *HealthTracker) Describer {
	return &retryDescriber{inner: d, policy: policy, health: health}
}

func (r *retryDescriber) Describe(ctx context.Context, img image.Image) (string, error) {
	return Call(ctx, r.policy, reelerr.RoleDescriber, r.health, func(ctx context.Context) (string, error) {
		return r.inner.Describe(ctx, img)
	})
}

type retryEmbedder struct {
	inner  Embedder
	policy RetryPolicy
	health *HealthTracker
}

func WithRetryEmbedder(e Embedder, policy RetryPolicy, health *HealthTracker) Embedder {
	return &retryEmbedder{inner: e, policy: policy, health: health}
}

func (r *retryEmbedder) Embed(ctx context.Context, text string, inputType InputType) ([]float32, error) {
	return Call(ctx, r.policy, reelerr.RoleEmbedder, r.health, func(ctx context.Context) ([]float32, error) {
		return r.inner.Embed(ctx, text, inputType)
	})
}

type retrySynthesizer struct {
	inner  Synthesizer
	policy RetryPolicy
	health *HealthTracker
}

func WithRetrySynthesizer(s Synthesizer, policy RetryPolicy, health *HealthTracker) Synthesizer {
	return &retrySynthesizer{inner: s, policy: policy, health: health}
}

func (r *retrySynthesizer) Generate(ctx context.Context, question string, items []ContextItem, systemPrompt string) (string, error) {
	return Call(ctx, r.policy, reelerr.RoleSynthesizer, r.health, func(ctx context.Context) (string, error) {
		return r.inner.Generate(ctx, question, items, systemPrompt)
	})
}

type retryTranscriber struct {
	inner  Transcriber
	policy RetryPolicy
	health *HealthTracker
}

func WithRetryTranscriber(t Transcriber, policy RetryPolicy, health *HealthTracker) Transcriber {
	return &retryTranscriber{inner: t, policy: policy, health: health}
}

func (r *retryTranscriber) Transcribe(ctx context.Context, audioPath string) ([]Fragment, error) {
	return Call(ctx, r.policy, reelerr.RoleTranscriber, r.health, func(ctx context.Context) ([]Fragment, error) {
		return r.inner.Transcribe(ctx, audioPath)
	})
}
