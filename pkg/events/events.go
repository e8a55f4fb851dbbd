// Package events publishes order lifecycle events to RabbitMQ.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"pmsdesk/pkg/order"
)

const (
	OrderCommittedQueue = "order.committed"
	OrderCompletedQueue = "order.completed"
)

const (
	EventTypeOrderCommitted = "OrderCommitted"
	EventTypeOrderCompleted = "OrderCompleted"
)

// Publisher announces order lifecycle changes to downstream consumers such
// as the kitchen display.
type Publisher interface {
	// PublishOrderCommitted announces the lines a cart commit added to the
	// pending order o.
	PublishOrderCommitted(ctx context.Context, o order.Order, added []order.Line) error
	PublishOrderCompleted(ctx context.Context, o order.Order) error
}

// Line is an order line as carried in events.
type Line struct {
	ItemID   string `json:"item_id"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Price    string `json:"price"`
}

// OrderCommitted is published after a cart commit lands in an order.
type OrderCommitted struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	OrderID    string    `json:"order_id"`
	LocationID string    `json:"location_id"`
	Type       string    `json:"type"`
	Added      []Line    `json:"added"`
	OrderTotal string    `json:"order_total"`
	Timestamp  time.Time `json:"timestamp"`
}

// OrderCompleted is published when an order leaves the pending state.
type OrderCompleted struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	OrderID    string    `json:"order_id"`
	LocationID string    `json:"location_id"`
	Type       string    `json:"type"`
	Total      string    `json:"total"`
	Timestamp  time.Time `json:"timestamp"`
}

func newOrderCommitted(o order.Order, added []order.Line, now time.Time) OrderCommitted {
	ev := OrderCommitted{
		EventID:    uuid.NewString(),
		EventType:  EventTypeOrderCommitted,
		OrderID:    o.ID,
		LocationID: o.LocationID,
		Type:       string(o.Type),
		Added:      make([]Line, 0, len(added)),
		OrderTotal: o.Total().String(),
		Timestamp:  now.UTC(),
	}
	for _, l := range added {
		ev.Added = append(ev.Added, Line{
			ItemID:   string(l.ItemID),
			Name:     l.Name,
			Quantity: l.Quantity,
			Price:    l.UnitPrice.String(),
		})
	}
	return ev
}

func newOrderCompleted(o order.Order, now time.Time) OrderCompleted {
	return OrderCompleted{
		EventID:    uuid.NewString(),
		EventType:  EventTypeOrderCompleted,
		OrderID:    o.ID,
		LocationID: o.LocationID,
		Type:       string(o.Type),
		Total:      o.Total().String(),
		Timestamp:  now.UTC(),
	}
}

// Nop discards every event. It is used when no broker is configured.
type Nop struct{}

func (Nop) PublishOrderCommitted(context.Context, order.Order, []order.Line) error { return nil }
func (Nop) PublishOrderCompleted(context.Context, order.Order) error              { return nil }
