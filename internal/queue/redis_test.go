package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kursadbilgin/throttle-sync/internal/observability"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRedisConsumerDeliversRecords(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)
	core, logs := observer.New(zapcore.WarnLevel)

	consumer, err := NewRedisConsumer(rdb, "throttleData", zap.New(core))
	if err != nil {
		t.Fatalf("NewRedisConsumer() error = %v", err)
	}
	publisher, err := NewRedisPublisher(rdb, "throttleData")
	if err != nil {
		t.Fatalf("NewRedisPublisher() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	received := make([]EventRecord, 0, 1)
	sources := make([]string, 0, 1)
	done := make(chan error, 1)
	go func() {
		done <- consumer.Consume(ctx, func(ctx context.Context, record EventRecord) error {
			meta, _ := observability.EventFromContext(ctx)
			mu.Lock()
			received = append(received, record)
			sources = append(sources, meta.Source)
			mu.Unlock()
			return errors.New("handler errors are logged, not fatal")
		})
	}()

	// The subscription is asynchronous; keep publishing until it is live.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := rdb.Publish(ctx, "throttleData", "not json").Err(); err != nil {
			t.Fatalf("publish garbage error = %v", err)
		}
		if err := publisher.Publish(ctx, EventRecord{"keyTemplateValue": "$userId", "keyTemplateState": "add"}); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}

		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no record received from redis subscription")
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Consume() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Consume() did not return after cancel")
	}

	mu.Lock()
	first := received[0]
	firstSource := sources[0]
	mu.Unlock()
	if firstSource != "throttleData" {
		t.Fatalf("event source = %q, want throttleData", firstSource)
	}
	if first.Get("keyTemplateValue") != "$userId" {
		t.Fatalf("keyTemplateValue = %q, want $userId", first.Get("keyTemplateValue"))
	}
	if logs.FilterMessage("dropping undecodable throttle event").Len() == 0 {
		t.Fatal("expected undecodable payload to be logged")
	}
	if logs.FilterMessage("throttle event handler failed").Len() == 0 {
		t.Fatal("expected handler failure to be logged")
	}
}

func TestRedisConstructorsValidate(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	if _, err := NewRedisConsumer(nil, "c", nil); err == nil {
		t.Fatal("expected error for nil client")
	}
	if _, err := NewRedisConsumer(rdb, "", nil); err == nil {
		t.Fatal("expected error for empty channel")
	}
	if _, err := NewRedisPublisher(nil, "c"); err == nil {
		t.Fatal("expected error for nil client")
	}
	if _, err := NewRedisPublisher(rdb, " "); err == nil {
		t.Fatal("expected error for empty channel")
	}

	consumer, err := NewRedisConsumer(rdb, "c", nil)
	if err != nil {
		t.Fatalf("NewRedisConsumer() error = %v", err)
	}
	if err := consumer.Consume(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil handler")
	}
}

func newTestRedisClient(t *testing.T) *goredis.Client {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() {
		_ = rdb.Close()
	})

	return rdb
}
