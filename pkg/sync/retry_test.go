package sync

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	p := NewRetryPolicy(DefaultRetryConfig())

	tests := []struct {
		name     string
		attempts int
		err      error
		want     bool
	}{
		{"no error", 1, nil, false},
		{"transient under limit", 1, io.EOF, true},
		{"transient at limit", 3, io.EOF, false},
		{"fatal error", 1, errors.New("syntax error"), false},
		{"canceled context", 1, context.Canceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.ShouldRetry(tt.attempts, tt.err); got != tt.want {
				t.Errorf("ShouldRetry(%d, %v) = %v, want %v", tt.attempts, tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryPolicy_NextRetryDelay(t *testing.T) {
	p := NewRetryPolicy(DefaultRetryConfig())

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 2 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second}, // capped
		{10, 10 * time.Second},
	}

	for _, tt := range tests {
		if got := p.NextRetryDelay(tt.attempts); got != tt.want {
			t.Errorf("NextRetryDelay(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestNewRetryPolicy_Defaults(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{})

	if p.config.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", p.config.MaxAttempts)
	}
	if p.config.InitialDelay != 2*time.Second {
		t.Errorf("InitialDelay = %v, want 2s", p.config.InitialDelay)
	}
	if p.config.MaxDelay != 10*time.Second {
		t.Errorf("MaxDelay = %v, want 10s", p.config.MaxDelay)
	}
}

func TestRetryPolicy_Do(t *testing.T) {
	fast := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffMultiplier: 2.0}

	t.Run("transient then success", func(t *testing.T) {
		p := NewRetryPolicy(fast)

		calls := 0
		attempts, err := p.Do(context.Background(), func() error {
			calls++
			if calls < 3 {
				return io.EOF
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Do returned error: %v", err)
		}
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})

	t.Run("fatal error fails immediately", func(t *testing.T) {
		p := NewRetryPolicy(fast)

		fatal := errors.New("syntax error")
		attempts, err := p.Do(context.Background(), func() error { return fatal })
		if !errors.Is(err, fatal) {
			t.Errorf("err = %v, want %v", err, fatal)
		}
		if attempts != 1 {
			t.Errorf("attempts = %d, want 1", attempts)
		}
	})

	t.Run("transient exhausts attempts", func(t *testing.T) {
		p := NewRetryPolicy(fast)

		attempts, err := p.Do(context.Background(), func() error { return io.EOF })
		if !errors.Is(err, io.EOF) {
			t.Errorf("err = %v, want io.EOF", err)
		}
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})

	t.Run("canceled context stops the wait", func(t *testing.T) {
		p := NewRetryPolicy(RetryConfig{MaxAttempts: 3, InitialDelay: time.Hour, MaxDelay: time.Hour, BackoffMultiplier: 2.0})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := p.Do(ctx, func() error { return io.EOF })
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	})
}
