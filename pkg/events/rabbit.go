package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"pmsdesk/pkg/order"
)

const publishTimeout = 3 * time.Second

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitPublisher publishes JSON events to durable queues on the default
// exchange.
type RabbitPublisher struct {
	ch  channel
	now func() time.Time
}

// NewRabbitPublisher opens a channel on conn and declares the event queues.
func NewRabbitPublisher(conn *amqp.Connection) (*RabbitPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	for _, q := range []string{OrderCommittedQueue, OrderCompletedQueue} {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			ch.Close()
			return nil, fmt.Errorf("declare %s: %w", q, err)
		}
	}
	return newRabbitPublisher(ch), nil
}

func newRabbitPublisher(ch channel) *RabbitPublisher {
	return &RabbitPublisher{ch: ch, now: time.Now}
}

// Close closes the underlying channel.
func (p *RabbitPublisher) Close() error {
	return p.ch.Close()
}

func (p *RabbitPublisher) PublishOrderCommitted(ctx context.Context, o order.Order, added []order.Line) error {
	body, err := json.Marshal(newOrderCommitted(o, added, p.now()))
	if err != nil {
		return fmt.Errorf("marshal %s: %w", EventTypeOrderCommitted, err)
	}
	return p.publishJSON(ctx, OrderCommittedQueue, body)
}

func (p *RabbitPublisher) PublishOrderCompleted(ctx context.Context, o order.Order) error {
	body, err := json.Marshal(newOrderCompleted(o, p.now()))
	if err != nil {
		return fmt.Errorf("marshal %s: %w", EventTypeOrderCompleted, err)
	}
	return p.publishJSON(ctx, OrderCompletedQueue, body)
}

func (p *RabbitPublisher) publishJSON(ctx context.Context, queue string, body []byte) error {
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err := p.ch.PublishWithContext(pubCtx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    p.now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	return nil
}
