package genesis

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiter spaces outbound calls at least 60s/rpm apart.
//
// It reserves slots against an injected clock and blocks with an injected
// sleep, so tests can drive it without real waiting.
type limiter struct {
	mu    sync.Mutex
	lim   *rate.Limiter
	now   func() time.Time
	sleep func(time.Duration)
}

func newLimiter(requestsPerMinute int, now func() time.Time, sleep func(time.Duration)) *limiter {
	l := &limiter{now: now, sleep: sleep}
	if requestsPerMinute > 0 {
		l.lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1)
	}
	return l
}

// Wait blocks until the next slot and returns how long it slept.
func (l *limiter) Wait() time.Duration {
	if l == nil || l.lim == nil {
		return 0
	}
	l.mu.Lock()
	now := l.now()
	delay := l.lim.ReserveN(now, 1).DelayFrom(now)
	l.mu.Unlock()

	if delay > 0 {
		l.sleep(delay)
	}
	return delay
}
