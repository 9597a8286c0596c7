package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one token bucket per subject
type Limiter struct {
	subjects map[string]*entry
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	perHour  int
}

// NewLimiter allows requestsPerHour per subject with bursts of up to burst requests
func NewLimiter(requestsPerHour int, burst int) *Limiter {
	return &Limiter{
		subjects: make(map[string]*entry),
		rate:     rate.Limit(float64(requestsPerHour) / 3600.0),
		burst:    burst,
		perHour:  requestsPerHour,
	}
}

// PerHour returns the configured hourly allowance
func (l *Limiter) PerHour() int {
	return l.perHour
}

func (l *Limiter) get(subject string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.subjects[subject]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.subjects[subject] = e
	}
	e.lastSeen = time.Now()
	return e.limiter
}

// Allow reports whether a request from subject may proceed and the tokens left after it
func (l *Limiter) Allow(subject string) (bool, int) {
	limiter := l.get(subject)
	ok := limiter.Allow()
	return ok, int(limiter.Tokens())
}

// Evict drops buckets of subjects idle for longer than idle
func (l *Limiter) Evict(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-idle)
	evicted := 0
	for subject, e := range l.subjects {
		if e.lastSeen.Before(cutoff) {
			delete(l.subjects, subject)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of tracked subjects
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subjects)
}
