package feed

import "time"

const (
	baseDelay = 1 * time.Second
	maxDelay  = 60 * time.Second
)

// Backoff returns baseDelay * 2^retry, capped at maxDelay.
func Backoff(retry int) time.Duration {
	if retry < 0 {
		return baseDelay
	}
	// 2^6 s already exceeds the cap
	if retry > 6 {
		return maxDelay
	}
	d := baseDelay << retry
	if d > maxDelay {
		return maxDelay
	}
	return d
}
