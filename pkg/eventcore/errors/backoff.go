package errors

import (
	"math/rand/v2"
	"time"
)

// Backoff configures the delay before a recovery attempt.
type Backoff struct {
	// Initial is the delay before the first attempt.
	Initial time.Duration

	// Max caps the delay. Zero means no cap.
	Max time.Duration

	// Factor multiplies the delay after each attempt.
	Factor float64

	// Jitter is the random jitter factor (0.0-1.0).
	Jitter float64
}

// DefaultBackoff is used for kinds with no dedicated configuration.
var DefaultBackoff = Backoff{
	Initial: 3 * time.Second,
	Max:     30 * time.Second,
	Factor:  2.0,
}

// Delay returns the delay before the given attempt (1-based).
// Attempts below 1 are treated as the first attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(b.Initial)
	factor := b.Factor
	if factor < 1 {
		factor = 1
	}
	for i := 1; i < attempt; i++ {
		delay *= factor
		if b.Max > 0 && delay >= float64(b.Max) {
			delay = float64(b.Max)
			break
		}
	}

	if b.Max > 0 && delay > float64(b.Max) {
		delay = float64(b.Max)
	}

	return applyJitter(time.Duration(delay), b.Jitter)
}

// applyJitter returns base +/- (base * jitter * random).
func applyJitter(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return base
	}
	if jitter > 1 {
		jitter = 1
	}
	jitterAmount := float64(base) * jitter * (rand.Float64()*2 - 1)
	return time.Duration(float64(base) + jitterAmount)
}

// BackoffOption configures a Backoff.
type BackoffOption func(*Backoff)

// WithInitial sets the initial delay.
func WithInitial(d time.Duration) BackoffOption {
	return func(b *Backoff) {
		b.Initial = d
	}
}

// WithMax sets the maximum delay.
func WithMax(d time.Duration) BackoffOption {
	return func(b *Backoff) {
		b.Max = d
	}
}

// WithFactor sets the multiplier.
func WithFactor(f float64) BackoffOption {
	return func(b *Backoff) {
		b.Factor = f
	}
}

// WithJitter sets the jitter factor.
func WithJitter(j float64) BackoffOption {
	return func(b *Backoff) {
		b.Jitter = j
	}
}

// NewBackoff creates a Backoff starting from DefaultBackoff.
func NewBackoff(opts ...BackoffOption) Backoff {
	b := DefaultBackoff
	for _, opt := range opts {
		opt(&b)
	}
	return b
}
