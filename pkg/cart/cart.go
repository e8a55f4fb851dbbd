// Package cart implements the cart store: the menu items selected for one
// uncommitted order, their quantities and running totals.
package cart

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"pmsdesk/pkg/logger"
	"pmsdesk/pkg/menu"
	"pmsdesk/pkg/money"
)

// DefaultKey is the storage key of the cart snapshot.
const DefaultKey = "cartItems"

// ErrNoSnapshot is returned by Storage.Get when nothing is stored under a key.
var ErrNoSnapshot = errors.New("cart snapshot not found")

// Storage persists cart snapshots by key.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// Line is one distinct menu item in the cart. Quantity is always at least 1.
type Line struct {
	menu.Item
	Quantity int `json:"quantity"`
}

// Subtotal returns UnitPrice * Quantity.
func (l Line) Subtotal() decimal.Decimal {
	return money.Line(l.Price, l.Quantity)
}

// UnmarshalJSON decodes the embedded item through menu.Item so prices are
// coerced the same way as at ingestion.
func (l *Line) UnmarshalJSON(b []byte) error {
	var it menu.Item
	if err := json.Unmarshal(b, &it); err != nil {
		return err
	}
	var q struct {
		Quantity int `json:"quantity"`
	}
	if err := json.Unmarshal(b, &q); err != nil {
		return err
	}
	*l = Line{Item: it, Quantity: q.Quantity}
	return nil
}

// Store holds the lines of the active cart. All methods are safe for
// concurrent use; each mutation writes the full snapshot to storage.
type Store struct {
	mu      sync.Mutex
	key     string
	storage Storage
	log     *logger.Logger
	lines   []Line
	open    bool
}

// New returns a store initialised from the snapshot saved under key. A
// missing or unreadable snapshot yields an empty cart.
func New(ctx context.Context, storage Storage, key string, log *logger.Logger) *Store {
	if key == "" {
		key = DefaultKey
	}
	s := &Store{key: key, storage: storage, log: log}
	s.lines = s.load(ctx)
	return s
}

func (s *Store) load(ctx context.Context) []Line {
	raw, err := s.storage.Get(ctx, s.key)
	if err != nil {
		if !errors.Is(err, ErrNoSnapshot) {
			s.log.Warn(ctx, "read cart snapshot", "key", s.key, "error", err)
		}
		return nil
	}
	var lines []Line
	if err := json.Unmarshal(raw, &lines); err != nil {
		s.log.Warn(ctx, "decode cart snapshot", "key", s.key, "error", err)
		return nil
	}
	out := lines[:0]
	for _, l := range lines {
		if l.Quantity < 1 {
			continue
		}
		l.Item = l.Item.Normalize()
		out = append(out, l)
	}
	return out
}

// AddItem increments the quantity of item, inserting a new line with
// quantity 1 when the cart does not hold it yet.
func (s *Store) AddItem(ctx context.Context, item menu.Item) {
	item = item.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.index(item.ID); i >= 0 {
		s.lines[i].Quantity++
	} else {
		s.lines = append(s.lines, Line{Item: item, Quantity: 1})
	}
	s.persist(ctx)
}

// RemoveItem deletes the line for id. Removing an absent id is a no-op.
func (s *Store) RemoveItem(ctx context.Context, id menu.ItemID) {
	id = menu.ParseItemID(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(id)
	if i < 0 {
		return
	}
	s.lines = append(s.lines[:i], s.lines[i+1:]...)
	s.persist(ctx)
}

// UpdateQuantity adds delta to the quantity of id, never going below 1.
func (s *Store) UpdateQuantity(ctx context.Context, id menu.ItemID, delta int) {
	id = menu.ParseItemID(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(id)
	if i < 0 {
		return
	}
	q := max(s.lines[i].Quantity+delta, 1)
	if q == s.lines[i].Quantity {
		return
	}
	s.lines[i].Quantity = q
	s.persist(ctx)
}

// ToggleOpen flips the visibility flag and returns the new value.
func (s *Store) ToggleOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = !s.open
	return s.open
}

// IsOpen reports the visibility flag.
func (s *Store) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Clear empties the cart and removes its snapshot.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clear(ctx)
}

// Commit hands a copy of the lines to submit and clears the cart when submit
// succeeds. The cart stays locked until then, so a mutation made concurrently
// is applied after the clear instead of being lost with it. submit must not
// call back into the store.
func (s *Store) Commit(ctx context.Context, submit func(lines []Line) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := make([]Line, len(s.lines))
	copy(lines, s.lines)
	if err := submit(lines); err != nil {
		return err
	}
	s.clear(ctx)
	return nil
}

// clear must be called with s.mu held.
func (s *Store) clear(ctx context.Context) {
	s.lines = nil
	if err := s.storage.Remove(ctx, s.key); err != nil {
		s.log.Warn(ctx, "remove cart snapshot", "key", s.key, "error", err)
	}
}

// Lines returns a copy of the cart lines in insertion order.
func (s *Store) Lines() []Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Line, len(s.lines))
	copy(out, s.lines)
	return out
}

// Total is the sum of price * quantity over all lines.
func (s *Store) Total() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return total(s.lines)
}

// Count is the sum of quantities over all lines.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.lines {
		n += l.Quantity
	}
	return n
}

// Summary returns the cart total with tax applied at rate.
func (s *Store) Summary(rate decimal.Decimal) money.Summary {
	return money.Summarize(s.Total(), rate)
}

func total(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Subtotal())
	}
	return sum
}

func (s *Store) index(id menu.ItemID) int {
	for i := range s.lines {
		if s.lines[i].ID == id {
			return i
		}
	}
	return -1
}

// persist must be called with s.mu held.
func (s *Store) persist(ctx context.Context) {
	lines := s.lines
	if lines == nil {
		lines = []Line{}
	}
	raw, err := json.Marshal(lines)
	if err != nil {
		s.log.Error(ctx, "encode cart snapshot", "key", s.key, "error", err)
		return
	}
	if err := s.storage.Set(ctx, s.key, raw); err != nil {
		s.log.Warn(ctx, "write cart snapshot", "key", s.key, "error", err)
	}
}
