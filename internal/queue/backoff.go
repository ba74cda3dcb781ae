package queue

import (
	"math"
	"math/rand"
	"time"
)

// backoff returns the delay before the given retry attempt: exponential
// growth from base, capped at max, with +/-20% jitter to avoid synchronized
// retries.
func backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := float64(base) * math.Pow(2, float64(attempt-1))
	if d > float64(max) {
		d = float64(max)
	}

	jitter := rand.Float64()*0.4 - 0.2
	d = d * (1.0 + jitter)

	if d < float64(time.Millisecond) {
		d = float64(time.Millisecond)
	}
	return time.Duration(d)
}
