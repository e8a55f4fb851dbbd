// Package memory implements an in-memory order repository.
package memory

import (
	"context"
	"sync"

	"pmsdesk/pkg/order"
)

// Repository provides an in-memory implementation of order.Repository.
// Orders are listed in insertion order.
type Repository struct {
	mu     sync.RWMutex
	orders map[string]order.Order
	ids    []string
}

// New creates a new in-memory repository.
func New() *Repository {
	return &Repository{orders: make(map[string]order.Order)}
}

// Create stores the order. Creating an existing id replaces it in place. A
// second pending order for the same location fails with order.ErrConflict.
func (r *Repository) Create(ctx context.Context, o order.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o.Status == order.StatusPending {
		for _, id := range r.ids {
			p := r.orders[id]
			if id != o.ID && p.LocationID == o.LocationID && p.Type == o.Type && p.Status == order.StatusPending {
				return order.ErrConflict
			}
		}
	}
	if _, ok := r.orders[o.ID]; !ok {
		r.ids = append(r.ids, o.ID)
	}
	r.orders[o.ID] = clone(o)
	return nil
}

// Get retrieves an order by ID.
func (r *Repository) Get(ctx context.Context, id string) (order.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return order.Order{}, order.ErrNotFound
	}
	return clone(o), nil
}

// List returns all orders.
func (r *Repository) List(ctx context.Context) ([]order.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]order.Order, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, clone(r.orders[id]))
	}
	return out, nil
}

// Update replaces a pending order whose stored version matches o.Version.
func (r *Repository) Update(ctx context.Context, o order.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.orders[o.ID]
	if !ok {
		return order.ErrNotFound
	}
	if cur.Status != order.StatusPending || cur.Version != o.Version {
		return order.ErrConflict
	}
	o.Version++
	r.orders[o.ID] = clone(o)
	return nil
}

// FindPending returns the first pending order for the location.
func (r *Repository) FindPending(ctx context.Context, locationID string, t order.Type) (order.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.ids {
		o := r.orders[id]
		if o.LocationID == locationID && o.Type == t && o.Status == order.StatusPending {
			return clone(o), nil
		}
	}
	return order.Order{}, order.ErrNotFound
}

func clone(o order.Order) order.Order {
	o.Items = append([]order.Line(nil), o.Items...)
	return o
}
