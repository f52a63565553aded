package util

import (
	"math/rand"
	"time"
)

// Backoff produces jittered, exponentially growing delays for retrying a
// failed connection. Not safe for concurrent use; each retry loop owns its
// own instance.
type Backoff struct {
	min time.Duration
	max time.Duration
	cur time.Duration
}

func NewBackoff(min, max time.Duration) *Backoff {
	return &Backoff{min: min, max: max, cur: min}
}

// Reset returns the delay to its minimum after a success.
func (b *Backoff) Reset() {
	b.cur = b.min
}

// Next returns the current delay with ±25% jitter and doubles the base for
// the following call, capped at max.
func (b *Backoff) Next() time.Duration {
	d := b.cur
	if b.cur < b.max {
		b.cur *= 2
		if b.cur > b.max {
			b.cur = b.max
		}
	}
	j := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(d) * j)
}
