package logstore

import (
	"context"
	"math"
	"time"
)

// Backoff describes the append retry schedule. Delay is pure so the schedule
// can be checked without sleeping.
type Backoff struct {
	Attempts int
	Base     time.Duration
	Factor   float64
}

// DefaultBackoff retries five times, waiting 1s, 1.5s, 2.25s, 3.375s between attempts.
var DefaultBackoff = Backoff{Attempts: 5, Base: time.Second, Factor: 1.5}

// Delay returns the wait after the given zero-based failed attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return time.Duration(float64(b.Base) * math.Pow(b.Factor, float64(attempt)))
}

func (b Backoff) attempts() int {
	if b.Attempts < 1 {
		return 1
	}
	return b.Attempts
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
