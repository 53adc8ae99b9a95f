package service

import (
	"math/rand"
	"time"
)

const (
	defaultRetryBaseDelay = 30 * time.Second
	defaultRetryMaxDelay  = time.Hour
	maxRetryJitterMillis  = 250
)

// Backoff computes when a failed delivery is retried. Delay doubles per retry and is
// capped at max; jitter is added on top and never shrinks the delay.
type Backoff struct {
	base     time.Duration
	max      time.Duration
	randIntn func(n int) int
}

func NewBackoff(base time.Duration, max time.Duration) Backoff {
	if base <= 0 {
		base = defaultRetryBaseDelay
	}
	if max < base {
		max = base
	}
	return Backoff{
		base:     base,
		max:      max,
		randIntn: rand.Intn,
	}
}

// Delay returns base*2^(retry-1) capped at max. It is non-decreasing in retry.
func (b Backoff) Delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}

	delay := b.base
	for i := 1; i < retry; i++ {
		delay *= 2
		if delay >= b.max {
			return b.max
		}
	}

	if delay > b.max {
		delay = b.max
	}
	return delay
}

// Next returns the time of the retry numbered retry for a failure observed at at.
func (b Backoff) Next(at time.Time, retry int) time.Time {
	jitterMillis := 0
	if b.randIntn != nil && maxRetryJitterMillis > 0 {
		jitterMillis = b.randIntn(maxRetryJitterMillis + 1)
	}
	return at.Add(b.Delay(retry) + time.Duration(jitterMillis)*time.Millisecond)
}
