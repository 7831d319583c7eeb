package http

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter is a process-wide token bucket that can be retuned while serving.
type Limiter struct {
	mu sync.RWMutex
	rl *rate.Limiter // nil = unlimited
}

// NewLimiter returns a limiter allowing perSec requests per second with the
// given burst. perSec <= 0 disables limiting.
func NewLimiter(perSec float64, burst int) *Limiter {
	l := &Limiter{}
	l.SetRate(perSec, burst)
	return l
}

// SetRate retunes the bucket in place.
func (l *Limiter) SetRate(perSec float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if perSec <= 0 {
		l.rl = nil
		return
	}
	if burst <= 0 {
		burst = max(1, int(perSec))
	}
	if l.rl == nil {
		l.rl = rate.NewLimiter(rate.Limit(perSec), burst)
		return
	}
	l.rl.SetLimit(rate.Limit(perSec))
	l.rl.SetBurst(burst)
}

func (l *Limiter) Allow() bool {
	l.mu.RLock()
	rl := l.rl
	l.mu.RUnlock()
	return rl == nil || rl.Allow()
}
