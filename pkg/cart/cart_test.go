package cart_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pmsdesk/pkg/cart"
	"pmsdesk/pkg/cart/memory"
	"pmsdesk/pkg/logger"
	"pmsdesk/pkg/menu"
)

func coffee() menu.Item {
	return menu.Item{ID: "1", Name: "Coffee", Price: decimal.NewFromInt(80)}
}

func decodeItem(t *testing.T, body string) menu.Item {
	t.Helper()
	var it menu.Item
	require.NoError(t, json.Unmarshal([]byte(body), &it))
	return it
}

func newStore(t *testing.T) (*cart.Store, *memory.Storage) {
	t.Helper()
	st := memory.New()
	return cart.New(context.Background(), st, cart.DefaultKey, logger.Nop()), st
}

func TestAddItem_SameIDTwice(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	s.AddItem(ctx, coffee())
	s.AddItem(ctx, coffee())

	lines := s.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, menu.ItemID("1"), lines[0].ID)
	assert.Equal(t, 2, lines[0].Quantity)
	assert.Equal(t, "160", s.Total().String())
	assert.Equal(t, 2, s.Count())
}

func TestAddItem_NumericAndStringIDsMerge(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	s.AddItem(ctx, decodeItem(t, `{"id": 7, "name": "Tea", "price": 40}`))
	s.AddItem(ctx, decodeItem(t, `{"id": "7", "name": "Tea", "price": "40"}`))

	lines := s.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, 2, lines[0].Quantity)
}

func TestAddItem_CopiesDisplayFields(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	s.AddItem(ctx, menu.Item{ID: "3", Name: "Naan", Price: decimal.NewFromInt(60), ImageURL: "/naan.png", Description: "butter"})

	l := s.Lines()[0]
	assert.Equal(t, "/naan.png", l.ImageURL)
	assert.Equal(t, "butter", l.Description)
	assert.Equal(t, 1, l.Quantity)
}

func TestUpdateQuantity_Floor(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	s.AddItem(ctx, coffee())
	s.AddItem(ctx, coffee())

	s.UpdateQuantity(ctx, "1", -5)
	assert.Equal(t, 1, s.Lines()[0].Quantity)

	s.UpdateQuantity(ctx, "1", -1)
	require.Len(t, s.Lines(), 1, "clamping never removes the line")
	assert.Equal(t, 1, s.Lines()[0].Quantity)

	s.UpdateQuantity(ctx, "1", 4)
	assert.Equal(t, 5, s.Lines()[0].Quantity)
}

func TestUpdateQuantity_AnySequenceStaysPositive(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	s.AddItem(ctx, coffee())

	for _, d := range []int{-3, 2, -10, 0, 7, -1, -100, 1} {
		s.UpdateQuantity(ctx, "1", d)
		assert.GreaterOrEqual(t, s.Lines()[0].Quantity, 1)
	}
}

func TestUpdateQuantity_MissingItemIsNoop(t *testing.T) {
	ctx := context.Background()
	s, st := newStore(t)

	s.UpdateQuantity(ctx, "42", 3)
	assert.Empty(t, s.Lines())
	_, err := st.Get(ctx, cart.DefaultKey)
	assert.True(t, errors.Is(err, cart.ErrNoSnapshot))
}

func TestRemoveItem_Idempotent(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	s.AddItem(ctx, coffee())
	s.AddItem(ctx, menu.Item{ID: "2", Name: "Tea", Price: decimal.NewFromInt(40)})

	s.RemoveItem(ctx, menu.ParseItemID(1))
	once := s.Lines()
	s.RemoveItem(ctx, menu.ParseItemID(1))
	assert.Equal(t, once, s.Lines())
	require.Len(t, once, 1)
	assert.Equal(t, menu.ItemID("2"), once[0].ID)
}

func TestRemoveItem_NonExistent(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	s.AddItem(ctx, coffee())

	assert.NotPanics(t, func() { s.RemoveItem(ctx, "999") })
	assert.Len(t, s.Lines(), 1)
}

func TestRemoveItem_NumericStringMatch(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	s.AddItem(ctx, decodeItem(t, `{"id": 12, "name": "Soup", "price": 90}`))

	s.RemoveItem(ctx, "012")
	assert.Empty(t, s.Lines())
}

func TestTotal_StringPrice(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	item := decodeItem(t, `{"id": 5, "name": "Biryani", "price": "320"}`)
	s.AddItem(ctx, item)
	s.AddItem(ctx, item)
	s.AddItem(ctx, item)

	assert.True(t, s.Total().Equal(decimal.NewFromInt(960)))
}

func TestTotal_MixedPriceRepresentations(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	s.AddItem(ctx, decodeItem(t, `{"id": 1, "name": "A", "price": 12.5}`))
	s.AddItem(ctx, decodeItem(t, `{"id": 2, "name": "B", "price": "7.25"}`))
	s.UpdateQuantity(ctx, "2", 1)

	want := decimal.RequireFromString("12.5").Add(decimal.RequireFromString("14.5"))
	assert.True(t, s.Total().Equal(want), "got %s", s.Total())
	assert.Equal(t, 3, s.Count())
}

func TestSummary(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	s.AddItem(ctx, coffee())

	sum := s.Summary(decimal.RequireFromString("0.1"))
	assert.Equal(t, "80", sum.Subtotal.String())
	assert.Equal(t, "8", sum.Tax.String())
	assert.Equal(t, "88", sum.Total.String())
}

func TestToggleOpen(t *testing.T) {
	s, _ := newStore(t)
	assert.False(t, s.IsOpen())
	assert.True(t, s.ToggleOpen())
	assert.True(t, s.IsOpen())
	assert.False(t, s.ToggleOpen())
}

func TestPersistence_RoundTrip(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	s := cart.New(ctx, st, cart.DefaultKey, logger.Nop())
	s.AddItem(ctx, coffee())
	s.AddItem(ctx, coffee())
	s.AddItem(ctx, decodeItem(t, `{"id": "9", "name": "Naan", "price": "60", "image_url": "/n.png"}`))

	reloaded := cart.New(ctx, st, cart.DefaultKey, logger.Nop())
	assert.Equal(t, s.Lines(), reloaded.Lines())
	assert.True(t, s.Total().Equal(reloaded.Total()))
}

func TestPersistence_WrittenOnEveryMutation(t *testing.T) {
	ctx := context.Background()
	s, st := newStore(t)

	snapshot := func() []cart.Line {
		raw, err := st.Get(ctx, cart.DefaultKey)
		require.NoError(t, err)
		var lines []cart.Line
		require.NoError(t, json.Unmarshal(raw, &lines))
		return lines
	}

	s.AddItem(ctx, coffee())
	assert.Equal(t, 1, snapshot()[0].Quantity)

	s.UpdateQuantity(ctx, "1", 2)
	assert.Equal(t, 3, snapshot()[0].Quantity)

	s.RemoveItem(ctx, "1")
	assert.Empty(t, snapshot())

	s.AddItem(ctx, coffee())
	s.Clear(ctx)
	_, err := st.Get(ctx, cart.DefaultKey)
	assert.True(t, errors.Is(err, cart.ErrNoSnapshot))
	assert.Empty(t, s.Lines())
	assert.True(t, s.Total().IsZero())
}

func TestNew_CorruptSnapshotFallsBackToEmpty(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	require.NoError(t, st.Set(ctx, cart.DefaultKey, []byte(`{not json`)))

	s := cart.New(ctx, st, cart.DefaultKey, logger.Nop())
	assert.Empty(t, s.Lines())
	assert.Zero(t, s.Count())
}

type failingStorage struct{}

func (failingStorage) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("disk unavailable")
}
func (failingStorage) Set(context.Context, string, []byte) error { return errors.New("disk full") }
func (failingStorage) Remove(context.Context, string) error      { return errors.New("disk full") }

func TestStorageFailuresAreNotFatal(t *testing.T) {
	ctx := context.Background()
	s := cart.New(ctx, failingStorage{}, "", logger.Nop())

	s.AddItem(ctx, coffee())
	s.UpdateQuantity(ctx, "1", 1)
	assert.Equal(t, 2, s.Count())

	s.Clear(ctx)
	assert.Zero(t, s.Count())
}

func TestCommit_ClearsOnSuccess(t *testing.T) {
	ctx := context.Background()
	s, st := newStore(t)
	s.AddItem(ctx, coffee())
	s.AddItem(ctx, coffee())

	var got []cart.Line
	require.NoError(t, s.Commit(ctx, func(lines []cart.Line) error {
		got = lines
		return nil
	}))
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Quantity)
	assert.Empty(t, s.Lines())
	_, err := st.Get(ctx, cart.DefaultKey)
	assert.ErrorIs(t, err, cart.ErrNoSnapshot)
}

func TestCommit_FailureKeepsLines(t *testing.T) {
	ctx := context.Background()
	s, st := newStore(t)
	s.AddItem(ctx, coffee())

	err := s.Commit(ctx, func([]cart.Line) error { return errors.New("order store down") })
	require.Error(t, err)
	assert.Len(t, s.Lines(), 1)
	_, err = st.Get(ctx, cart.DefaultKey)
	assert.NoError(t, err)
}

func TestCommit_ConcurrentAddIsNotLost(t *testing.T) {
	ctx := context.Background()
	s, st := newStore(t)
	s.AddItem(ctx, coffee())
	naan := menu.Item{ID: "2", Name: "Naan", Price: decimal.NewFromInt(60)}

	added := make(chan struct{})
	require.NoError(t, s.Commit(ctx, func(lines []cart.Line) error {
		require.Len(t, lines, 1)
		go func() {
			s.AddItem(ctx, naan)
			close(added)
		}()
		time.Sleep(20 * time.Millisecond)
		return nil
	}))
	<-added

	lines := s.Lines()
	require.Len(t, lines, 1, "the add made during the commit survives the clear")
	assert.Equal(t, menu.ItemID("2"), lines[0].ID)

	raw, err := st.Get(ctx, cart.DefaultKey)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Naan")
}
