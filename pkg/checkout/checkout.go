// Package checkout commits carts into orders and announces order changes.
package checkout

import (
	"context"

	"pmsdesk/pkg/cart"
	"pmsdesk/pkg/events"
	"pmsdesk/pkg/logger"
	"pmsdesk/pkg/order"
)

// Orders is the part of order.Aggregator used by the commit flow.
type Orders interface {
	CreateOrder(ctx context.Context, locationID string, t order.Type, items []order.Line) (string, error)
	Get(ctx context.Context, id string) (order.Order, error)
	Complete(ctx context.Context, id string) (order.Order, error)
}

// Service moves cart contents into orders.
type Service struct {
	orders    Orders
	publisher events.Publisher
	log       *logger.Logger
}

// New returns a checkout Service. A nil publisher discards events.
func New(orders Orders, publisher events.Publisher, log *logger.Logger) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{orders: orders, publisher: publisher, log: log}
}

// Commit submits the cart lines as an order for the location and clears the
// cart. The cart is locked while the order is written and is left untouched
// when the order cannot be created.
func (s *Service) Commit(ctx context.Context, c *cart.Store, locationID string, t order.Type) (string, error) {
	var (
		id    string
		items []order.Line
	)
	err := c.Commit(ctx, func(lines []cart.Line) error {
		items = Lines(lines)
		if len(items) == 0 {
			return order.ErrNoItems
		}
		var err error
		id, err = s.orders.CreateOrder(ctx, locationID, t, items)
		return err
	})
	if err != nil {
		return "", err
	}

	o, err := s.orders.Get(ctx, id)
	if err != nil {
		s.log.Warn(ctx, "load committed order", "order_id", id, "error", err)
		return id, nil
	}
	if err := s.publisher.PublishOrderCommitted(ctx, o, items); err != nil {
		s.log.Warn(ctx, "publish order committed", "order_id", id, "error", err)
	}
	return id, nil
}

// Complete marks the order completed and publishes the change.
func (s *Service) Complete(ctx context.Context, id string) (order.Order, error) {
	o, err := s.orders.Complete(ctx, id)
	if err != nil {
		return order.Order{}, err
	}
	if err := s.publisher.PublishOrderCompleted(ctx, o); err != nil {
		s.log.Warn(ctx, "publish order completed", "order_id", id, "error", err)
	}
	return o, nil
}

// Lines converts cart lines into order lines. Display fields are dropped.
func Lines(lines []cart.Line) []order.Line {
	out := make([]order.Line, 0, len(lines))
	for _, l := range lines {
		out = append(out, order.Line{
			ItemID:    l.ID,
			Name:      l.Name,
			Quantity:  l.Quantity,
			UnitPrice: l.Price,
		})
	}
	return out
}
