package queue

import (
	"context"
	"fmt"
	"strings"
)

// MessageHandler handles one decoded control-plane record. Returning an error
// asks the transport to redeliver when it can.
type MessageHandler func(ctx context.Context, record EventRecord) error

// Consumer delivers records from the throttle topic until ctx is canceled.
type Consumer interface {
	Consume(ctx context.Context, handler MessageHandler) error
	Close() error
}

// Publisher emits records onto the throttle topic.
type Publisher interface {
	Publish(ctx context.Context, record EventRecord) error
	Close() error
}

// Driver names a message bus implementation.
type Driver string

const (
	DriverRabbitMQ Driver = "rabbitmq"
	DriverRedis    Driver = "redis"
)

func (d Driver) String() string { return string(d) }

func (d Driver) IsValid() bool {
	switch d {
	case DriverRabbitMQ, DriverRedis:
		return true
	}
	return false
}

func ParseDriver(s string) (Driver, error) {
	d := Driver(strings.ToLower(strings.TrimSpace(s)))
	if !d.IsValid() {
		return "", fmt.Errorf("unsupported bus driver %q", s)
	}
	return d, nil
}

// NodeQueueName returns the per-node queue bound to the throttle exchange,
// e.g. throttleData.gateway.3f2a.
func NodeQueueName(exchange, nodeID string) string {
	return fmt.Sprintf("%s.gateway.%s", exchange, nodeID)
}
