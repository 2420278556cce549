package producer

import "time"

// Backoff implements the capped exponential reconnect policy: start at
// 2s, double on failure, cap at 30s, reset to 2s on clean EOF.
type Backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

// NewBackoff returns a Backoff starting at 2s and capped at 30s.
func NewBackoff() *Backoff {
	return &Backoff{initial: 2 * time.Second, max: 30 * time.Second, current: 2 * time.Second}
}

// Next returns the delay to sleep before the next reconnect attempt
// and advances the internal state by doubling, capped at max.
func (b *Backoff) Next() time.Duration {
	d := b.current
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return d
}

// Reset restores the backoff to its initial value, called after a
// clean EOF (as opposed to a transport error).
func (b *Backoff) Reset() {
	b.current = b.initial
}
