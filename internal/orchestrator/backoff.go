package orchestrator

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// lockedRand provides a concurrency-safe jitter source.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// newLockedRand initializes a lockedRand with the given seed.
func newLockedRand(seed int64) *lockedRand {
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}

// Float64 returns a value in [0, 1).
func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

// backoff returns base*2^(attempt-1) capped at max, scaled by a jitter factor
// in [0.5, 1.5).
func backoff(attempt int, base, max time.Duration, random func() float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt && delay < max; i++ {
		delay *= 2
	}
	if delay > max {
		delay = max
	}
	factor := 0.5 + random()
	return time.Duration(float64(delay) * factor)
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
