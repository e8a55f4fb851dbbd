package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"pmsdesk/pkg/logger"
	"pmsdesk/pkg/menu"
)

// maxAttempts bounds the retries of a write that lost a race with another
// process sharing the repository.
const maxAttempts = 3

// Aggregator turns committed carts into orders, merging every commit for a
// location into that location's pending order.
type Aggregator struct {
	mu    sync.Mutex
	repo  Repository
	log   *logger.Logger
	newID func() string
	now   func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithIDGenerator replaces the uuid based order id generator.
func WithIDGenerator(fn func() string) Option {
	return func(a *Aggregator) { a.newID = fn }
}

// WithClock replaces time.Now.
func WithClock(fn func() time.Time) Option {
	return func(a *Aggregator) { a.now = fn }
}

// NewAggregator returns an Aggregator storing orders in repo.
func NewAggregator(repo Repository, log *logger.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		repo:  repo,
		log:   log,
		newID: uuid.NewString,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CreateOrder merges items into the pending order for (locationID, t) and
// returns its id, or creates a new pending order when there is none.
func (a *Aggregator) CreateOrder(ctx context.Context, locationID string, t Type, items []Line) (string, error) {
	locationID = strings.TrimSpace(locationID)
	if locationID == "" {
		return "", ErrInvalidLocation
	}
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidType, t)
	}
	incoming, err := normalizeLines(items)
	if err != nil {
		return "", err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var id string
	for attempt := 0; attempt < maxAttempts; attempt++ {
		// A conflict means another process created or changed the pending
		// order since the lookup; the next attempt reads and merges into it.
		id, err = a.upsert(ctx, locationID, t, incoming)
		if !errors.Is(err, ErrConflict) {
			break
		}
		a.log.Warn(ctx, "pending order changed concurrently, retrying",
			"location_id", locationID, "type", t, "attempt", attempt+1)
	}
	return id, err
}

func (a *Aggregator) upsert(ctx context.Context, locationID string, t Type, incoming []Line) (string, error) {
	existing, err := a.repo.FindPending(ctx, locationID, t)
	switch {
	case err == nil:
		existing.Items = MergeLines(existing.Items, incoming)
		if err := a.repo.Update(ctx, existing); err != nil {
			return "", fmt.Errorf("merge into order %s: %w", existing.ID, err)
		}
		a.log.Info(ctx, "merged into pending order",
			"order_id", existing.ID, "location_id", locationID, "type", t, "lines", len(incoming))
		return existing.ID, nil
	case errors.Is(err, ErrNotFound):
	default:
		return "", fmt.Errorf("find pending order: %w", err)
	}

	o := Order{
		ID:         a.newID(),
		LocationID: locationID,
		Type:       t,
		Items:      incoming,
		Status:     StatusPending,
		CreatedAt:  a.now(),
	}
	if err := a.repo.Create(ctx, o); err != nil {
		return "", fmt.Errorf("create order: %w", err)
	}
	a.log.Info(ctx, "created pending order",
		"order_id", o.ID, "location_id", locationID, "type", t, "lines", len(incoming))
	return o.ID, nil
}

// Complete marks a pending order as completed. The next commit for the same
// location starts a new order.
func (a *Aggregator) Complete(ctx context.Context, id string) (Order, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		var o Order
		o, err = a.repo.Get(ctx, id)
		if err != nil {
			return Order{}, err
		}
		if o.Status != StatusPending {
			return Order{}, ErrNotPending
		}
		o.Status = StatusCompleted
		err = a.repo.Update(ctx, o)
		if err == nil {
			o.Version++
			a.log.Info(ctx, "completed order", "order_id", id)
			return o, nil
		}
		if !errors.Is(err, ErrConflict) {
			break
		}
	}
	return Order{}, fmt.Errorf("complete order %s: %w", id, err)
}

// Get returns the order with the given id.
func (a *Aggregator) Get(ctx context.Context, id string) (Order, error) {
	return a.repo.Get(ctx, id)
}

// List returns all orders in creation order.
func (a *Aggregator) List(ctx context.Context) ([]Order, error) {
	return a.repo.List(ctx)
}

func normalizeLines(items []Line) ([]Line, error) {
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	out := make([]Line, 0, len(items))
	for _, l := range items {
		l.ItemID = menu.ParseItemID(l.ItemID)
		if l.Quantity < 1 {
			continue
		}
		if l.UnitPrice.IsNegative() {
			l.UnitPrice = decimal.Zero
		}
		out = append(out, l)
	}
	if len(out) == 0 {
		return nil, ErrNoItems
	}
	return MergeLines(nil, out), nil
}
