package client

import "time"

// Backoff returns the delay before reconnection attempt number attempt (0 based).
type Backoff interface {
	Next(attempt int) time.Duration
}

// ExponentialBackoff doubles the delay from Initial up to Max. Attempts are unlimited.
type ExponentialBackoff struct {
	Initial time.Duration
	Max     time.Duration
}

// DefaultBackoff is used when NewConnection is given a nil Backoff
var DefaultBackoff = ExponentialBackoff{
	Initial: 500 * time.Millisecond,
	Max:     30 * time.Second,
}

func (b ExponentialBackoff) Next(attempt int) time.Duration {
	delay := b.Initial
	if delay <= 0 {
		delay = DefaultBackoff.Initial
	}
	limit := b.Max
	if limit < delay {
		limit = delay
	}
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= limit {
			return limit
		}
	}
	return delay
}
