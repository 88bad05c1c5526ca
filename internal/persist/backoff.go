package persist

import "time"

// backoff calculates exponential retry delays capped at a maximum
type backoff struct {
	current  time.Duration
	maxDelay time.Duration
	factor   float64
}

func newBackoff(initial, maxDelay time.Duration) *backoff {
	if maxDelay < initial {
		maxDelay = initial
	}
	return &backoff{
		current:  initial,
		maxDelay: maxDelay,
		factor:   2.0,
	}
}

// next returns the current delay and advances to the next value
func (b *backoff) next() time.Duration {
	current := b.current
	b.current = min(time.Duration(float64(b.current)*b.factor), b.maxDelay)
	return current
}
