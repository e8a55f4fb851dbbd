package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pmsdesk/pkg/order"
)

func TestRepository(t *testing.T) {
	ctx := context.Background()
	repo := New()
	o := order.Order{
		ID:         "1",
		LocationID: "T1",
		Type:       order.TypeTable,
		Status:     order.StatusPending,
		CreatedAt:  time.Now(),
		Items:      []order.Line{{ItemID: "5", Name: "Tea", Quantity: 1, UnitPrice: decimal.NewFromInt(40)}},
	}
	if err := repo.Create(ctx, o); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := repo.Get(ctx, "1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LocationID != "T1" || len(got.Items) != 1 {
		t.Fatalf("unexpected order %+v", got)
	}

	got.Items[0].Quantity = 99
	again, _ := repo.Get(ctx, "1")
	if again.Items[0].Quantity != 1 {
		t.Fatal("returned order aliases stored items")
	}

	o.Status = order.StatusCompleted
	if err := repo.Update(ctx, o); err != nil {
		t.Fatalf("update: %v", err)
	}
	list, err := repo.List(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %v len=%d", err, len(list))
	}
	if list[0].Status != order.StatusCompleted {
		t.Fatalf("expected completed, got %s", list[0].Status)
	}
	if err := repo.Update(ctx, order.Order{ID: "missing"}); err != order.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := repo.Get(ctx, "missing"); err == nil {
		t.Fatal("expected error for missing order")
	}
}

func TestRepository_ListKeepsInsertionOrder(t *testing.T) {
	ctx := context.Background()
	repo := New()
	for _, id := range []string{"c", "a", "b"} {
		if err := repo.Create(ctx, order.Order{ID: id}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	list, _ := repo.List(ctx)
	if len(list) != 3 || list[0].ID != "c" || list[1].ID != "a" || list[2].ID != "b" {
		t.Fatalf("unexpected order %+v", list)
	}
}

func TestRepository_FindPending(t *testing.T) {
	ctx := context.Background()
	repo := New()
	repo.Create(ctx, order.Order{ID: "done", LocationID: "R101", Type: order.TypeRoom, Status: order.StatusCompleted})
	repo.Create(ctx, order.Order{ID: "table", LocationID: "R101", Type: order.TypeTable, Status: order.StatusPending})
	repo.Create(ctx, order.Order{ID: "room", LocationID: "R101", Type: order.TypeRoom, Status: order.StatusPending})

	got, err := repo.FindPending(ctx, "R101", order.TypeRoom)
	if err != nil {
		t.Fatalf("find pending: %v", err)
	}
	if got.ID != "room" {
		t.Fatalf("expected room, got %s", got.ID)
	}
	if _, err := repo.FindPending(ctx, "R102", order.TypeRoom); err != order.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRepository_SecondPendingConflicts(t *testing.T) {
	ctx := context.Background()
	repo := New()
	if err := repo.Create(ctx, order.Order{ID: "a", LocationID: "T1", Type: order.TypeTable, Status: order.StatusPending}); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := repo.Create(ctx, order.Order{ID: "b", LocationID: "T1", Type: order.TypeTable, Status: order.StatusPending})
	if err != order.ErrConflict {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := repo.Create(ctx, order.Order{ID: "c", LocationID: "T1", Type: order.TypeRoom, Status: order.StatusPending}); err != nil {
		t.Fatalf("other type must not conflict: %v", err)
	}
}

func TestRepository_UpdateRejectsStaleCopy(t *testing.T) {
	ctx := context.Background()
	repo := New()
	repo.Create(ctx, order.Order{ID: "1", LocationID: "T1", Type: order.TypeTable, Status: order.StatusPending})

	a, _ := repo.Get(ctx, "1")
	b, _ := repo.Get(ctx, "1")
	a.Items = []order.Line{{ItemID: "1", Quantity: 1}}
	if err := repo.Update(ctx, a); err != nil {
		t.Fatalf("first update: %v", err)
	}
	b.Items = []order.Line{{ItemID: "2", Quantity: 1}}
	if err := repo.Update(ctx, b); err != order.ErrConflict {
		t.Fatalf("expected ErrConflict for stale copy, got %v", err)
	}
	got, _ := repo.Get(ctx, "1")
	if len(got.Items) != 1 || got.Items[0].ItemID != "1" || got.Version != 1 {
		t.Fatalf("stale write leaked: %+v", got)
	}
}

func TestRepository_UpdateKeepsCompletedOrder(t *testing.T) {
	ctx := context.Background()
	repo := New()
	repo.Create(ctx, order.Order{ID: "1", LocationID: "T1", Type: order.TypeTable, Status: order.StatusPending})

	stale, _ := repo.Get(ctx, "1")
	done := stale
	done.Status = order.StatusCompleted
	if err := repo.Update(ctx, done); err != nil {
		t.Fatalf("complete: %v", err)
	}

	stale.Items = []order.Line{{ItemID: "9", Quantity: 2}}
	if err := repo.Update(ctx, stale); err != order.ErrConflict {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	reread, _ := repo.Get(ctx, "1")
	if reread.Status != order.StatusCompleted || len(reread.Items) != 0 {
		t.Fatalf("completed order was rewritten: %+v", reread)
	}
	if err := repo.Update(ctx, reread); err != order.ErrConflict {
		t.Fatalf("expected ErrConflict updating a completed order, got %v", err)
	}
}
