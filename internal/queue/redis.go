package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/throttle-sync/internal/observability"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	_ Consumer  = (*RedisConsumer)(nil)
	_ Publisher = (*RedisPublisher)(nil)
)

// RedisConsumer subscribes to a Redis pub/sub channel. Pub/sub has no
// redelivery, so handler errors are logged and the message is dropped.
type RedisConsumer struct {
	client  *goredis.Client
	channel string
	logger  *zap.Logger
}

func NewRedisConsumer(client *goredis.Client, channel string, logger *zap.Logger) (*RedisConsumer, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if strings.TrimSpace(channel) == "" {
		return nil, fmt.Errorf("redis channel is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RedisConsumer{client: client, channel: channel, logger: logger}, nil
}

func (c *RedisConsumer) Consume(ctx context.Context, handler MessageHandler) error {
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	backoff := reconnectBackoff
	for {
		err := c.consumeOnce(ctx, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			backoff = reconnectBackoff
			continue
		}

		c.logger.Warn("throttle subscription interrupted, retrying",
			zap.String("channel", c.channel),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff = nextBackoff(backoff)
	}
}

func (c *RedisConsumer) consumeOnce(ctx context.Context, handler MessageHandler) error {
	pubsub := c.client.Subscribe(ctx, c.channel)
	defer pubsub.Close() //nolint:errcheck // best-effort unsubscribe

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %q: %w", c.channel, err)
	}

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return fmt.Errorf("subscription channel closed")
			}

			record, err := DecodeRecord([]byte(msg.Payload))
			if err != nil {
				c.logger.Warn("dropping undecodable throttle event",
					zap.Error(err),
					zap.String("channel", msg.Channel),
				)
				continue
			}

			eventCtx := observability.WithEvent(ctx, observability.EventMeta{Source: msg.Channel})
			if err := handler(eventCtx, record); err != nil {
				c.logger.Error("throttle event handler failed",
					zap.Error(err),
					zap.String("channel", msg.Channel),
				)
			}
		}
	}
}

// Close is a no-op; the shared client is owned by the caller.
func (c *RedisConsumer) Close() error { return nil }

type RedisPublisher struct {
	client  *goredis.Client
	channel string
}

func NewRedisPublisher(client *goredis.Client, channel string) (*RedisPublisher, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if strings.TrimSpace(channel) == "" {
		return nil, fmt.Errorf("redis channel is required")
	}
	return &RedisPublisher{client: client, channel: channel}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, record EventRecord) error {
	payload, err := EncodeRecord(record)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event to channel %q: %w", p.channel, err)
	}
	return nil
}

// Close is a no-op; the shared client is owned by the caller.
func (p *RedisPublisher) Close() error { return nil }
