// Package ratelimit throttles browser session launches per endpoint.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config defines the session launch limits.
type Config struct {
	RPS             float64       // Session launches per second per endpoint
	Burst           int           // Launches allowed back to back
	CleanupInterval time.Duration // How often to drop idle limiters
}

// DefaultConfig matches the SESSION_RATE / SESSION_BURST defaults.
var DefaultConfig = Config{
	RPS:             2,
	Burst:           2,
	CleanupInterval: 10 * time.Minute,
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// SessionLimiter hands out one token bucket per endpoint key.
type SessionLimiter struct {
	limiters map[string]*limiterEntry
	mu       sync.Mutex
	config   Config

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSessionLimiter creates a limiter and starts its cleanup goroutine.
func NewSessionLimiter(config Config) *SessionLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultConfig.CleanupInterval
	}
	sl := &SessionLimiter{
		limiters: make(map[string]*limiterEntry),
		config:   config,
		stopCh:   make(chan struct{}),
	}

	sl.wg.Add(1)
	go sl.cleanupLoop()

	return sl
}

// Wait blocks until a session launch against key is allowed or ctx ends.
func (sl *SessionLimiter) Wait(ctx context.Context, key string) error {
	return sl.limiterFor(key).Wait(ctx)
}

// Allow reports whether a launch against key may proceed right now.
func (sl *SessionLimiter) Allow(key string) bool {
	return sl.limiterFor(key).Allow()
}

func (sl *SessionLimiter) limiterFor(key string) *rate.Limiter {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	entry, ok := sl.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(sl.config.RPS), sl.config.Burst)}
		sl.limiters[key] = entry
	}
	entry.lastUsed = time.Now()
	return entry.limiter
}

// Cleanup removes limiters idle for longer than the cleanup interval.
func (sl *SessionLimiter) Cleanup() {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	cutoff := time.Now().Add(-sl.config.CleanupInterval)
	for key, entry := range sl.limiters {
		if entry.lastUsed.Before(cutoff) {
			delete(sl.limiters, key)
		}
	}
}

func (sl *SessionLimiter) cleanupLoop() {
	defer sl.wg.Done()

	ticker := time.NewTicker(sl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sl.Cleanup()
		case <-sl.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine and waits for it to finish. Safe to call twice.
func (sl *SessionLimiter) Stop() {
	sl.stopOnce.Do(func() { close(sl.stopCh) })
	sl.wg.Wait()
}

// Len returns the number of tracked endpoints.
func (sl *SessionLimiter) Len() int {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return len(sl.limiters)
}
