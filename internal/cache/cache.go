// Package cache provides a short-lived read cache for invoice status
// lookups, bounding how often the payment backend is polled. It supports
// both in-memory (single instance) and Redis (distributed) backends.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/fulmine-labs/spark-gateway/internal/domain"
)

// InvoiceCache stores invoice snapshots keyed by invoice ID.
type InvoiceCache interface {
	Get(ctx context.Context, invoiceID string) (*domain.Invoice, bool)
	Set(ctx context.Context, invoiceID string, inv *domain.Invoice, ttl time.Duration) error
}

type InMemoryCache struct {
	mu    sync.RWMutex
	items map[string]*cacheItem
}

type cacheItem struct {
	invoice   domain.Invoice
	expiresAt time.Time
}

func NewInMemoryCache() *InMemoryCache {
	c := &InMemoryCache{items: make(map[string]*cacheItem)}
	go c.cleanup()
	return c
}

func (c *InMemoryCache) Get(ctx context.Context, invoiceID string) (*domain.Invoice, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.items[invoiceID]
	if !ok || time.Now().After(item.expiresAt) {
		return nil, false
	}
	inv := item.invoice
	return &inv, true
}

func (c *InMemoryCache) Set(ctx context.Context, invoiceID string, inv *domain.Invoice, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[invoiceID] = &cacheItem{
		invoice:   *inv,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

func (c *InMemoryCache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now()
		c.mu.Lock()
		for id, item := range c.items {
			if now.After(item.expiresAt) {
				delete(c.items, id)
			}
		}
		c.mu.Unlock()
	}
}
