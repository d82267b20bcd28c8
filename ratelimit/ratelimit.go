// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit throttles outbound sends per destination.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/absmach/jms/message"
	"golang.org/x/time/rate"
)

// DefaultCleanupInterval is how often idle destination limiters are evicted.
const DefaultCleanupInterval = 5 * time.Minute

// SendLimiter holds one token bucket per destination.
type SendLimiter struct {
	mu       sync.Mutex
	limiters map[message.Destination]*entry
	rate     rate.Limit
	burst    int
	cleanup  time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewSendLimiter creates a limiter allowing r sends per second per destination
// with the given burst. A non-positive cleanup interval uses DefaultCleanupInterval.
func NewSendLimiter(r float64, burst int, cleanupInterval time.Duration) *SendLimiter {
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	if burst < 1 {
		burst = 1
	}
	l := &SendLimiter{
		limiters: make(map[message.Destination]*entry),
		rate:     rate.Limit(r),
		burst:    burst,
		cleanup:  cleanupInterval,
		stopCh:   make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

func (l *SendLimiter) get(dest message.Destination) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.limiters[dest]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[dest] = e
	}
	e.lastSeen = time.Now()
	return e.limiter
}

// Allow reports whether a send to dest may proceed now.
func (l *SendLimiter) Allow(dest message.Destination) bool {
	if l == nil {
		return true
	}
	return l.get(dest).Allow()
}

// Wait blocks until a send to dest is allowed or ctx is done.
func (l *SendLimiter) Wait(ctx context.Context, dest message.Destination) error {
	if l == nil {
		return nil
	}
	return l.get(dest).Wait(ctx)
}

// Remove drops the limiter for dest.
func (l *SendLimiter) Remove(dest message.Destination) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, dest)
}

// Len returns the number of tracked destinations.
func (l *SendLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *SendLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.evict(time.Now().Add(-l.cleanup * 2))
		case <-l.stopCh:
			return
		}
	}
}

func (l *SendLimiter) evict(threshold time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for dest, e := range l.limiters {
		if e.lastSeen.Before(threshold) {
			delete(l.limiters, dest)
		}
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (l *SendLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}
