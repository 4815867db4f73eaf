package network

import (
	"sync"

	"golang.org/x/time/rate"
)

// partyLimiter keeps one token bucket per party. The set of parties is fixed
// for a session, so entries are never evicted.
type partyLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newPartyLimiter(rps float64, burst int) *partyLimiter {
	if rps <= 0 {
		return &partyLimiter{rps: rate.Inf}
	}
	return &partyLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (pl *partyLimiter) allow(partyID string) bool {
	if pl.rps == rate.Inf {
		return true
	}
	pl.mu.Lock()
	l, ok := pl.limiters[partyID]
	if !ok {
		l = rate.NewLimiter(pl.rps, pl.burst)
		pl.limiters[partyID] = l
	}
	pl.mu.Unlock()
	return l.Allow()
}
