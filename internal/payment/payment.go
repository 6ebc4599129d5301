// Package payment defines the Lightning payment gateway interface and a
// caching decorator. Concrete backends live in the btcpay and alby
// subpackages; the set is closed and selected by configuration.
package payment

import (
	"context"
	"time"

	"github.com/fulmine-labs/spark-gateway/internal/cache"
	"github.com/fulmine-labs/spark-gateway/internal/domain"
)

// Gateway is the outbound payment interface. The gateway creates
// invoices and reads their status; it never settles anything itself.
type Gateway interface {
	ID() string
	CreateInvoice(ctx context.Context, amountSats int64, description, orderID string) (*domain.Invoice, error)
	GetInvoice(ctx context.Context, invoiceID string) (*domain.Invoice, error)
}

// IsConfirmed reports whether an invoice is paid. Lookup errors count as
// unconfirmed; the caller distinguishes them via GetInvoice if needed.
func IsConfirmed(ctx context.Context, g Gateway, invoiceID string) bool {
	inv, err := g.GetInvoice(ctx, invoiceID)
	if err != nil {
		return false
	}
	return inv.Confirmed()
}

// CachedGateway wraps a Gateway with a read cache for invoice status.
// Terminal statuses (confirmed, expired) are cached since they cannot
// change upstream; pending and error lookups always hit the backend.
// This is a read cache only, not a payment ledger.
type CachedGateway struct {
	inner Gateway
	cache cache.InvoiceCache
	ttl   time.Duration
}

func NewCachedGateway(inner Gateway, c cache.InvoiceCache, ttl time.Duration) *CachedGateway {
	if ttl == 0 {
		ttl = time.Hour
	}
	return &CachedGateway{inner: inner, cache: c, ttl: ttl}
}

func (g *CachedGateway) ID() string {
	return g.inner.ID()
}

func (g *CachedGateway) CreateInvoice(ctx context.Context, amountSats int64, description, orderID string) (*domain.Invoice, error) {
	return g.inner.CreateInvoice(ctx, amountSats, description, orderID)
}

func (g *CachedGateway) GetInvoice(ctx context.Context, invoiceID string) (*domain.Invoice, error) {
	if inv, ok := g.cache.Get(ctx, invoiceID); ok {
		return inv, nil
	}

	inv, err := g.inner.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status.Terminal() {
		// Best effort; a cache write failure only costs an extra lookup.
		_ = g.cache.Set(ctx, invoiceID, inv, g.ttl)
	}
	return inv, nil
}
