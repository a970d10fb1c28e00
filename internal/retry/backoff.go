// Package retry holds the reconnect backoff schedule used by long-running
// device loops.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 500 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     30 * time.Second,
		Jitter:       true,
	}
}

// WithDefaults fills unset fields from DefaultBackoff.
func (c BackoffConfig) WithDefaults() BackoffConfig {
	def := DefaultBackoff()
	out := c
	if out.InitialDelay <= 0 {
		out.InitialDelay = def.InitialDelay
	}
	if out.Multiplier < 1.0 {
		out.Multiplier = def.Multiplier
	}
	if out.MaxDelay <= 0 {
		out.MaxDelay = def.MaxDelay
	}
	return out
}

// NextDelay returns the retry delay for attempt N (1-based).
func NextDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 {
		return cfg.InitialDelay
	}
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay = delay * f
	}
	return time.Duration(delay)
}

// Wait blocks for delay or until ctx ends.
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Backoff tracks consecutive failures of one retried operation.
type Backoff struct {
	cfg     BackoffConfig
	rng     *rand.Rand
	attempt int
}

// New returns a Backoff; rng may be nil for the deterministic schedule.
func New(cfg BackoffConfig, rng *rand.Rand) *Backoff {
	return &Backoff{cfg: cfg.WithDefaults(), rng: rng}
}

// Next records a failure and returns the delay before the next attempt.
func (b *Backoff) Next() time.Duration {
	b.attempt++
	return NextDelay(b.cfg, b.attempt, b.rng)
}

// Attempt returns the number of failures since the last Reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}

func (b *Backoff) Reset() {
	b.attempt = 0
}
