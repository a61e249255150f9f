package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

var _ Publisher = (*RabbitMQPublisher)(nil)

type RabbitMQPublisher struct {
	client     *RabbitMQ
	routingKey string
}

func NewRabbitMQPublisher(client *RabbitMQ, routingKey string) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client, routingKey: routingKey}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, record EventRecord) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}

	payload, err := EncodeRecord(record)
	if err != nil {
		return err
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	publishing := amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now().UTC(),
		MessageId:   uuid.NewString(),
		Body:        payload,
	}

	exchange := p.client.Exchange()
	if err := ch.PublishWithContext(ctx, exchange, p.routingKey, false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish event to exchange %q: %w", exchange, err)
	}

	return nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
