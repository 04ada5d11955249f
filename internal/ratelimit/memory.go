package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// pruneThreshold is the key count above which idle entries are dropped.
const pruneThreshold = 10000

// MemoryLimiter is a single-process token bucket limiter for deployments
// without Redis.
type MemoryLimiter struct {
	cfg Config
	now func() time.Time

	mu        sync.Mutex
	buckets   map[string]*rate.Limiter
	cooldowns map[string]time.Time
}

func NewMemoryLimiter(cfg Config) *MemoryLimiter {
	return &MemoryLimiter{
		cfg:       cfg.withDefaults(),
		now:       time.Now,
		buckets:   make(map[string]*rate.Limiter),
		cooldowns: make(map[string]time.Time),
	}
}

func (l *MemoryLimiter) bucket(key string) *rate.Limiter {
	b, ok := l.buckets[key]
	if !ok {
		every := rate.Every(l.cfg.Window / time.Duration(l.cfg.MaxRequests))
		b = rate.NewLimiter(every, l.cfg.MaxRequests)
		l.buckets[key] = b
	}
	return b
}

func (l *MemoryLimiter) CheckIPRateLimitWithPurpose(_ context.Context, ip, purpose string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[ipKey(ip, purpose)]
	if !ok {
		return false, nil
	}
	return b.TokensAt(l.now()) < 1, nil
}

func (l *MemoryLimiter) RecordIPRequestWithPurpose(_ context.Context, ip, purpose string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.buckets) > pruneThreshold {
		l.prune()
	}
	l.bucket(ipKey(ip, purpose)).AllowN(l.now(), 1)
	return nil
}

func (l *MemoryLimiter) CheckEmailCooldown(_ context.Context, email string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	until, ok := l.cooldowns[email]
	return ok && l.now().Before(until), nil
}

func (l *MemoryLimiter) SetEmailCooldown(_ context.Context, email string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.cooldowns) > pruneThreshold {
		l.prune()
	}
	l.cooldowns[email] = l.now().Add(l.cfg.EmailCooldown)
	return nil
}

// prune drops full buckets and lapsed cooldowns. Caller holds mu.
func (l *MemoryLimiter) prune() {
	now := l.now()
	for key, b := range l.buckets {
		if b.TokensAt(now) >= float64(b.Burst()) {
			delete(l.buckets, key)
		}
	}
	for email, until := range l.cooldowns {
		if !now.Before(until) {
			delete(l.cooldowns, email)
		}
	}
}
