package bankid

import (
	"context"
	"sync"
	"time"
)

// Order is one in-flight identification, keyed by the provider's order
// reference. The QR start secret never leaves this package.
type Order struct {
	OrderRef       string
	AutoStartToken string
	QRStartToken   string
	QRStartSecret  string
	CreatedAt      time.Time
}

// OrderStore persists in-flight orders. Delete reports whether a row was
// removed so completion can be claimed exactly once.
type OrderStore interface {
	Create(ctx context.Context, order *Order) error
	Find(ctx context.Context, orderRef string) (*Order, error)
	Delete(ctx context.Context, orderRef string) (bool, error)
}

// cachedOrders decorates an OrderStore with an in-process TTL cache. The
// store stays authoritative: misses fall through and repopulate, deletes
// invalidate before hitting the store.
type cachedOrders struct {
	store OrderStore
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	order     Order
	expiresAt time.Time
}

// NewCachedOrders wraps store with a read-through cache. A non-positive ttl
// disables caching and returns the store unchanged.
func NewCachedOrders(store OrderStore, ttl time.Duration) OrderStore {
	if ttl <= 0 {
		return store
	}
	return &cachedOrders{
		store:   store,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *cachedOrders) Create(ctx context.Context, order *Order) error {
	if err := c.store.Create(ctx, order); err != nil {
		return err
	}
	c.put(*order)
	return nil
}

func (c *cachedOrders) Find(ctx context.Context, orderRef string) (*Order, error) {
	if order, ok := c.get(orderRef); ok {
		return order, nil
	}
	order, err := c.store.Find(ctx, orderRef)
	if err != nil {
		return nil, err
	}
	c.put(*order)
	return order, nil
}

func (c *cachedOrders) Delete(ctx context.Context, orderRef string) (bool, error) {
	c.mu.Lock()
	delete(c.entries, orderRef)
	c.mu.Unlock()
	return c.store.Delete(ctx, orderRef)
}

func (c *cachedOrders) get(orderRef string) (*Order, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[orderRef]
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, orderRef)
		return nil, false
	}
	order := entry.order
	return &order, true
}

func (c *cachedOrders) put(order Order) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[order.OrderRef] = cacheEntry{order: order, expiresAt: c.now().Add(c.ttl)}
}
