package notify

import (
	"math/rand"
	"time"
)

// backoffDelay is the un-jittered retry delay after the given attempt count:
// min(max, base * 2^attempts).
func backoffDelay(base, max time.Duration, attempts int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = time.Minute
	}
	d := base
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// jitterDelay spreads retries across 0.5x..1.5x so synchronized failures
// don't retry in lockstep.
func jitterDelay(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	f := 0.5 + rand.Float64()
	return time.Duration(float64(d) * f)
}
