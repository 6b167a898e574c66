package connection

import (
	"math"
	"math/rand"
	"time"
)

// reconnector computes capped exponential backoff delays with jitter and
// counts attempts against a budget. Not safe for concurrent use; the
// manager calls it under its mutex.
type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	jitter      func() float64
}

func newReconnector(baseDelay, maxDelay time.Duration, maxAttempts int) *reconnector {
	return &reconnector{
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		maxAttempts: maxAttempts,
		jitter:      rand.Float64,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.attempt < r.maxAttempts
}

// nextDelay returns base*2^attempt plus up to half a base of jitter, capped
// at maxDelay, and consumes one attempt.
func (r *reconnector) nextDelay() time.Duration {
	jitter := r.jitter() * float64(r.baseDelay) * 0.5
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+jitter,
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

func (r *reconnector) reset() {
	r.attempt = 0
}
