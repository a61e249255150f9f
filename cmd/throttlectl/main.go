// Command throttlectl publishes control-plane events onto the throttle topic.
//
//	throttlectl -kind throttle -key '/pizzashack/1.0.0:1.0.0_condition_0' -state true -ttl 1m
//	throttlectl -kind blocking -category ip -value 10.0.0.1 -state true
//	throttlectl -kind template -value '$userId:$apiContext' -state add
//
// Bus settings come from the same environment as the gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/kursadbilgin/throttle-sync/internal/config"
	"github.com/kursadbilgin/throttle-sync/internal/domain"
	infraredis "github.com/kursadbilgin/throttle-sync/internal/infra/redis"
	"github.com/kursadbilgin/throttle-sync/internal/observability"
	"github.com/kursadbilgin/throttle-sync/internal/queue"
	"go.uber.org/zap"
)

const publishTimeout = 10 * time.Second

func main() {
	var opts eventOptions
	flag.StringVar(&opts.kind, "kind", "", "event kind: throttle, blocking or template")
	flag.StringVar(&opts.key, "key", "", "throttle condition key")
	flag.StringVar(&opts.state, "state", "", "true/false for throttle and blocking, add/remove for template")
	flag.DurationVar(&opts.ttl, "ttl", time.Minute, "throttle window length from now")
	flag.StringVar(&opts.category, "category", "", "blocking category: application, api, user or ip")
	flag.StringVar(&opts.value, "value", "", "blocking condition value or key template")
	flag.StringVar(&opts.tenant, "domain", "carbon.super", "tenant domain for blocking events")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	record, err := buildRecord(opts, time.Now())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}

	publisher, closeBus, err := newPublisher(cfg, logger)
	if err != nil {
		logger.Fatal("message bus initialization failed", zap.Error(err))
	}
	defer closeBus()

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := publisher.Publish(ctx, record); err != nil {
		logger.Fatal("failed to publish event", zap.Error(err))
	}
	logger.Info("event published", zap.Any("record", map[string]string(record)))
}

type eventOptions struct {
	kind     string
	key      string
	state    string
	ttl      time.Duration
	category string
	value    string
	tenant   string
}

func buildRecord(opts eventOptions, now time.Time) (queue.EventRecord, error) {
	switch domain.EventFamily(opts.kind) {
	case domain.FamilyThrottle:
		if opts.key == "" {
			return nil, fmt.Errorf("-key is required for throttle events")
		}
		throttled, err := domain.ParseFlag("-state", opts.state)
		if err != nil {
			return nil, err
		}
		return queue.EventRecord{
			domain.FieldThrottleKey:     opts.key,
			domain.FieldIsThrottled:     strconv.FormatBool(throttled),
			domain.FieldExpiryTimestamp: strconv.FormatInt(now.Add(opts.ttl).UnixMilli(), 10),
		}, nil

	case domain.FamilyBlocking:
		category, err := domain.ParseBlockingCategory(opts.category)
		if err != nil {
			return nil, err
		}
		if opts.value == "" {
			return nil, fmt.Errorf("-value is required for blocking events")
		}
		enabled, err := domain.ParseFlag("-state", opts.state)
		if err != nil {
			return nil, err
		}
		return queue.EventRecord{
			domain.FieldBlockingCondition: category.String(),
			domain.FieldConditionValue:    opts.value,
			domain.FieldConditionState:    strconv.FormatBool(enabled),
			domain.FieldTenantDomain:      opts.tenant,
		}, nil

	case "template", domain.FamilyKeyTemplate:
		if opts.value == "" {
			return nil, fmt.Errorf("-value is required for template events")
		}
		return queue.EventRecord{
			domain.FieldKeyTemplateValue: opts.value,
			domain.FieldKeyTemplateState: opts.state,
		}, nil
	}

	return nil, fmt.Errorf("unknown -kind %q", opts.kind)
}

// newPublisher returns the publisher for the configured driver and a func
// releasing the bus connection behind it.
func newPublisher(cfg *config.Config, logger *zap.Logger) (queue.Publisher, func(), error) {
	switch cfg.Driver() {
	case queue.DriverRabbitMQ:
		rmq, err := queue.NewRabbitMQ(cfg.RabbitMQURL, cfg.ThrottleExchange)
		if err != nil {
			return nil, nil, err
		}
		return queue.NewRabbitMQPublisher(rmq, "throttle"), func() {
			if err := rmq.Close(); err != nil {
				logger.Warn("failed to close rabbitmq connection", zap.Error(err))
			}
		}, nil

	case queue.DriverRedis:
		rdb, err := infraredis.NewRedis(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		publisher, err := queue.NewRedisPublisher(rdb, cfg.RedisChannel)
		if err != nil {
			_ = rdb.Close()
			return nil, nil, err
		}
		return publisher, func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("failed to close redis client", zap.Error(err))
			}
		}, nil
	}
	return nil, nil, fmt.Errorf("unsupported bus driver %q", cfg.BusDriver)
}
