package transmit

import (
	"time"
)

const MaxMinInterval = 5000 * time.Millisecond

// RateLimiter enforces a minimum interval between sends. A send attempted
// too early is rejected, never queued or delayed.
//
// RateLimiter is not safe for concurrent use on its own; Session calls it
// inside the socket critical section so check-and-record is atomic with the
// send itself.
type RateLimiter struct {
	minInterval time.Duration
	last        time.Time
	hasLast     bool
}

// NewRateLimiter returns a limiter with the given minimum interval. Zero or
// negative disables limiting; intervals are truncated to milliseconds and
// capped at 5s.
func NewRateLimiter(minInterval time.Duration) *RateLimiter {
	minInterval = minInterval.Truncate(time.Millisecond)
	if minInterval < 0 {
		minInterval = 0
	}
	if minInterval > MaxMinInterval {
		minInterval = MaxMinInterval
	}
	return &RateLimiter{minInterval: minInterval}
}

// MinInterval returns the configured interval.
func (rl *RateLimiter) MinInterval() time.Duration {
	return rl.minInterval
}

// TryAcquire records a send at now if the interval has elapsed since the
// last accepted send. Otherwise it returns false and the time remaining.
// now must carry a monotonic reading (time.Now does).
func (rl *RateLimiter) TryAcquire(now time.Time) (bool, time.Duration) {
	if rl.minInterval == 0 {
		rl.last, rl.hasLast = now, true
		return true, 0
	}
	if rl.hasLast {
		if elapsed := now.Sub(rl.last); elapsed < rl.minInterval {
			return false, rl.minInterval - elapsed
		}
	}
	rl.last, rl.hasLast = now, true
	return true, 0
}

// Reset forgets the last send time.
func (rl *RateLimiter) Reset() {
	rl.last, rl.hasLast = time.Time{}, false
}
