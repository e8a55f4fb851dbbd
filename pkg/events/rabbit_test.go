package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pmsdesk/pkg/order"
)

type published struct {
	key string
	msg amqp.Publishing
}

type fakeChannel struct {
	sent   []published
	err    error
	closed bool
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("publish without deadline")
	}
	if exchange != "" {
		return errors.New("unexpected exchange")
	}
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func pendingOrder() order.Order {
	return order.Order{
		ID:         "order-1",
		LocationID: "T4",
		Type:       order.TypeTable,
		Status:     order.StatusPending,
		Items: []order.Line{
			{ItemID: "1", Name: "Coffee", Quantity: 3, UnitPrice: decimal.NewFromInt(80)},
			{ItemID: "2", Name: "Tea", Quantity: 1, UnitPrice: decimal.RequireFromString("40.5")},
		},
	}
}

func TestPublishOrderCommitted(t *testing.T) {
	ch := &fakeChannel{}
	p := newRabbitPublisher(ch)
	fixed := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	o := pendingOrder()
	require.NoError(t, p.PublishOrderCommitted(context.Background(), o, o.Items[1:]))

	require.Len(t, ch.sent, 1)
	msg := ch.sent[0]
	assert.Equal(t, OrderCommittedQueue, msg.key)
	assert.Equal(t, "application/json", msg.msg.ContentType)
	assert.Equal(t, amqp.Persistent, msg.msg.DeliveryMode)

	var ev OrderCommitted
	require.NoError(t, json.Unmarshal(msg.msg.Body, &ev))
	_, err := uuid.Parse(ev.EventID)
	require.NoError(t, err)
	assert.Equal(t, EventTypeOrderCommitted, ev.EventType)
	assert.Equal(t, "T4", ev.LocationID)
	assert.Equal(t, "table", ev.Type)
	assert.Equal(t, "280.5", ev.OrderTotal)
	assert.Equal(t, []Line{{ItemID: "2", Name: "Tea", Quantity: 1, Price: "40.5"}}, ev.Added)
	assert.True(t, fixed.Equal(ev.Timestamp))
}

func TestPublishOrderCompleted(t *testing.T) {
	ch := &fakeChannel{}
	p := newRabbitPublisher(ch)

	o := pendingOrder()
	o.Status = order.StatusCompleted
	require.NoError(t, p.PublishOrderCompleted(context.Background(), o))

	require.Len(t, ch.sent, 1)
	assert.Equal(t, OrderCompletedQueue, ch.sent[0].key)

	var ev OrderCompleted
	require.NoError(t, json.Unmarshal(ch.sent[0].msg.Body, &ev))
	assert.Equal(t, "order-1", ev.OrderID)
	assert.Equal(t, "280.5", ev.Total)
}

func TestPublishError(t *testing.T) {
	ch := &fakeChannel{err: errors.New("channel closed")}
	p := newRabbitPublisher(ch)

	err := p.PublishOrderCompleted(context.Background(), pendingOrder())
	require.Error(t, err)
	assert.Contains(t, err.Error(), OrderCompletedQueue)

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.PublishOrderCommitted(context.Background(), pendingOrder(), nil))
	assert.NoError(t, p.PublishOrderCompleted(context.Background(), pendingOrder()))
}
