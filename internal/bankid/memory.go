package bankid

import (
	"context"
	"sync"
)

// MemOrders is an in-memory OrderStore for tests and local development.
type MemOrders struct {
	mu     sync.Mutex
	orders map[string]Order
}

// NewMemOrders returns an empty in-memory order store.
func NewMemOrders() *MemOrders {
	return &MemOrders{orders: make(map[string]Order)}
}

func (m *MemOrders) Create(_ context.Context, order *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[order.OrderRef] = *order
	return nil
}

func (m *MemOrders) Find(_ context.Context, orderRef string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderRef]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := order
	return &cp, nil
}

func (m *MemOrders) Delete(_ context.Context, orderRef string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[orderRef]; !ok {
		return false, nil
	}
	delete(m.orders, orderRef)
	return true, nil
}
