package sync

import (
	"context"
	"math"
	"time"

	"github.com/crewlytics/crewsync/pkg/storage"
)

// RetryConfig configures chunk-commit retry behavior
type RetryConfig struct {
	MaxAttempts       int           `json:"max_attempts"`
	InitialDelay      time.Duration `json:"initial_delay"`
	MaxDelay          time.Duration `json:"max_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialDelay:      2 * time.Second,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// RetryPolicy implements exponential backoff around chunk commits.
// Only transient storage errors are retried; constraint violations and
// other fatal errors fail immediately.
type RetryPolicy struct {
	config RetryConfig
}

// NewRetryPolicy creates a new retry policy
func NewRetryPolicy(config RetryConfig) *RetryPolicy {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 2 * time.Second
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 10 * time.Second
	}
	if config.BackoffMultiplier <= 1.0 {
		config.BackoffMultiplier = 2.0
	}

	return &RetryPolicy{config: config}
}

// ShouldRetry reports whether another attempt is warranted
func (p *RetryPolicy) ShouldRetry(attempts int, err error) bool {
	if err == nil {
		return false
	}
	if attempts >= p.config.MaxAttempts {
		return false
	}
	return storage.IsTransient(err)
}

// NextRetryDelay calculates the delay before the next retry
func (p *RetryPolicy) NextRetryDelay(attempts int) time.Duration {
	if attempts <= 0 {
		return p.config.InitialDelay
	}

	delay := float64(p.config.InitialDelay) * math.Pow(p.config.BackoffMultiplier, float64(attempts-1))
	if delay > float64(p.config.MaxDelay) {
		return p.config.MaxDelay
	}
	return time.Duration(delay)
}

// Do runs fn until it succeeds, fails fatally, or exhausts attempts.
// Returns the number of attempts made and the final error.
func (p *RetryPolicy) Do(ctx context.Context, fn func() error) (int, error) {
	attempts := 0
	for {
		attempts++
		err := fn()
		if !p.ShouldRetry(attempts, err) {
			return attempts, err
		}

		timer := time.NewTimer(p.NextRetryDelay(attempts))
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempts, ctx.Err()
		case <-timer.C:
		}
	}
}
