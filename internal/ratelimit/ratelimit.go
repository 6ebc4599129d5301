// Package ratelimit throttles generation requests per client key (API
// key when present, remote address otherwise) using a fixed one-minute
// window. In-memory and Redis backends are provided; Redis is needed
// only when running more than one gateway instance.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// RateLimiter reports whether a request from the given client key is
// allowed under the requests-per-minute limit.
type RateLimiter interface {
	Allow(ctx context.Context, clientKey string, limit int) (allowed bool, remaining int, resetAt time.Time, err error)
}

type InMemoryRateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	count   int
	resetAt time.Time
}

func NewInMemoryRateLimiter() *InMemoryRateLimiter {
	return &InMemoryRateLimiter{
		windows: make(map[string]*window),
	}
}

func (r *InMemoryRateLimiter) Allow(ctx context.Context, clientKey string, limit int) (bool, int, time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()

	w, ok := r.windows[clientKey]
	if !ok || now.After(w.resetAt) {
		w = &window{resetAt: now.Add(time.Minute)}
		r.windows[clientKey] = w
	}

	if w.count >= limit {
		return false, 0, w.resetAt, nil
	}

	w.count++
	return true, limit - w.count, w.resetAt, nil
}
