package order

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"pmsdesk/pkg/menu"
	"pmsdesk/pkg/money"
)

// Type is the kind of location an order is served to.
type Type string

const (
	TypeTable Type = "table"
	TypeRoom  Type = "room"
)

// Valid reports whether t is a known location type.
func (t Type) Valid() bool {
	return t == TypeTable || t == TypeRoom
}

// Status is the fulfilment state of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// Line is one item of an order.
type Line struct {
	ItemID    menu.ItemID     `json:"id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"price"`
}

// UnmarshalJSON accepts the price as a number or a numeric string.
func (l *Line) UnmarshalJSON(b []byte) error {
	var raw struct {
		ItemID   menu.ItemID     `json:"id"`
		Name     string          `json:"name"`
		Quantity int             `json:"quantity"`
		Price    json.RawMessage `json:"price"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*l = Line{ItemID: raw.ItemID, Name: raw.Name, Quantity: raw.Quantity, UnitPrice: money.Price(raw.Price)}
	return nil
}

// Order is a committed order for a table or room.
type Order struct {
	ID         string    `json:"id"`
	LocationID string    `json:"location_id"`
	Type       Type      `json:"type"`
	Items      []Line    `json:"items"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	// Version counts successful updates. Update rejects a copy whose version
	// is behind the stored one.
	Version int `json:"-"`
}

// Total is the untaxed sum of price * quantity over the order lines.
func (o Order) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range o.Items {
		sum = sum.Add(money.Line(l.UnitPrice, l.Quantity))
	}
	return sum
}

// Repository defines behavior for persisting orders.
type Repository interface {
	Create(ctx context.Context, o Order) error
	Get(ctx context.Context, id string) (Order, error)
	// List returns orders in the order they were created.
	List(ctx context.Context) ([]Order, error)
	// Update writes status and items of o if the stored order is still
	// pending at o.Version, and bumps the stored version. It returns
	// ErrNotFound for an unknown id and ErrConflict otherwise.
	Update(ctx context.Context, o Order) error
	// FindPending returns the pending order for a location, or ErrNotFound.
	FindPending(ctx context.Context, locationID string, t Type) (Order, error)
}

var (
	// ErrNotFound indicates the requested order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrInvalidLocation indicates an empty location identifier.
	ErrInvalidLocation = errors.New("location id is required")
	// ErrInvalidType indicates a location type other than table or room.
	ErrInvalidType = errors.New("order type must be table or room")
	// ErrNoItems indicates an order request without lines.
	ErrNoItems = errors.New("order has no items")
	// ErrNotPending indicates a transition on an order that is no longer pending.
	ErrNotPending = errors.New("order is not pending")
	// ErrConflict is returned by repositories when another writer got there
	// first: it created the pending order for the same location, or it
	// changed the order being updated.
	ErrConflict = errors.New("order was changed by another writer")
)

// MergeLines folds incoming into existing: quantities of matching item ids
// are summed and unseen ids are appended in arrival order. Neither input is
// modified.
func MergeLines(existing, incoming []Line) []Line {
	out := make([]Line, 0, len(existing)+len(incoming))
	pos := make(map[menu.ItemID]int, len(existing)+len(incoming))
	for _, l := range existing {
		if i, ok := pos[l.ItemID]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		pos[l.ItemID] = len(out)
		out = append(out, l)
	}
	for _, l := range incoming {
		if i, ok := pos[l.ItemID]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		pos[l.ItemID] = len(out)
		out = append(out, l)
	}
	return out
}
