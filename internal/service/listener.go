package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kursadbilgin/throttle-sync/internal/domain"
	"github.com/kursadbilgin/throttle-sync/internal/observability"
	"github.com/kursadbilgin/throttle-sync/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minListenerConcurrency = 1

	outcomeApplied = "applied"
	outcomeDropped = "dropped"
)

// ThrottleStateWriter is the part of the throttle store driven by bus events.
type ThrottleStateWriter interface {
	SetThrottled(conditionKey string, expiresAt time.Time) string
	ClearThrottled(conditionKey string) string
	SetBlockingCondition(category domain.BlockingCategory, value string, enabled bool) bool
	SetKeyTemplate(value string, active bool) bool
}

// EventListener applies control-plane events from the bus to the throttle store.
// It keeps no state between messages, so redelivered events are harmless.
type EventListener struct {
	store       ThrottleStateWriter
	consumer    queue.Consumer
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
}

func NewEventListener(
	store ThrottleStateWriter,
	consumer queue.Consumer,
	concurrency int,
	logger *zap.Logger,
) (*EventListener, error) {
	if store == nil {
		return nil, fmt.Errorf("throttle store is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if concurrency < minListenerConcurrency {
		concurrency = minListenerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EventListener{
		store:       store,
		consumer:    consumer,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

func (l *EventListener) SetMetrics(metrics *observability.Metrics) {
	if l == nil {
		return
	}
	l.metrics = metrics
}

// Start runs the configured number of consumers until ctx is canceled.
func (l *EventListener) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < l.concurrency; i++ {
		listenerID := i + 1

		g.Go(func() error {
			l.logger.Info("throttle listener started", zap.Int("listenerId", listenerID))

			if err := l.consumer.Consume(groupCtx, l.HandleEvent); err != nil {
				l.logger.Error("throttle listener stopped with error",
					zap.Int("listenerId", listenerID),
					zap.Error(err),
				)
				return err
			}

			l.logger.Info("throttle listener stopped", zap.Int("listenerId", listenerID))
			return nil
		})
	}

	return g.Wait()
}

// ClassifyEvent picks the event family from the fields present. When a record
// carries fields of several families the first in throttle, blocking,
// key-template order wins.
func ClassifyEvent(record queue.EventRecord) domain.EventFamily {
	switch {
	case record.Has(domain.FieldThrottleKey):
		return domain.FamilyThrottle
	case record.Has(domain.FieldBlockingCondition):
		return domain.FamilyBlocking
	case record.Has(domain.FieldKeyTemplateValue):
		return domain.FamilyKeyTemplate
	default:
		return domain.FamilyUnsupported
	}
}

// HandleEvent applies one record. Malformed records are logged and dropped,
// never returned as errors, so a bad message cannot stall the subscription.
func (l *EventListener) HandleEvent(ctx context.Context, record queue.EventRecord) error {
	family := ClassifyEvent(record)
	logger := observability.EventLogger(l.logger, ctx, family.String())
	logger.Debug("throttle event received", zap.Any("record", map[string]string(record)))

	var err error
	switch family {
	case domain.FamilyThrottle:
		err = l.applyThrottle(logger, record)
	case domain.FamilyBlocking:
		err = l.applyBlocking(logger, record)
	case domain.FamilyKeyTemplate:
		err = l.applyKeyTemplate(logger, record)
	default:
		logger.Warn("dropping unsupported throttle event", zap.Strings("fields", fieldNames(record)))
		l.metrics.IncEvent(family.String(), outcomeDropped)
		return nil
	}

	if err != nil {
		logger.Warn("dropping malformed throttle event", zap.Error(err))
		l.metrics.IncEvent(family.String(), outcomeDropped)
		return nil
	}

	l.metrics.IncEvent(family.String(), outcomeApplied)
	return nil
}

func (l *EventListener) applyThrottle(logger *zap.Logger, record queue.EventRecord) error {
	conditionKey := record.Get(domain.FieldThrottleKey)
	if strings.TrimSpace(conditionKey) == "" {
		return fmt.Errorf("%w: %s is empty", domain.ErrValidation, domain.FieldThrottleKey)
	}

	throttled, err := domain.ParseFlag(domain.FieldIsThrottled, record.Get(domain.FieldIsThrottled))
	if err != nil {
		return err
	}

	if !throttled {
		entityKey := l.store.ClearThrottled(conditionKey)
		logger.Debug("throttle condition cleared",
			zap.String("throttleKey", conditionKey),
			zap.String("entityKey", entityKey),
		)
		return nil
	}

	expiresAt, err := domain.ParseEpochMillis(domain.FieldExpiryTimestamp, record.Get(domain.FieldExpiryTimestamp))
	if err != nil {
		return err
	}

	entityKey := l.store.SetThrottled(conditionKey, expiresAt)
	logger.Debug("throttle condition set",
		zap.String("throttleKey", conditionKey),
		zap.String("entityKey", entityKey),
		zap.Time("expiresAt", expiresAt),
	)
	return nil
}

func (l *EventListener) applyBlocking(logger *zap.Logger, record queue.EventRecord) error {
	category, err := domain.ParseBlockingCategory(record.Get(domain.FieldBlockingCondition))
	if err != nil {
		return err
	}

	value := record.Get(domain.FieldConditionValue)
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is empty", domain.ErrValidation, domain.FieldConditionValue)
	}

	enabled, err := domain.ParseFlag(domain.FieldConditionState, record.Get(domain.FieldConditionState))
	if err != nil {
		return err
	}

	changed := l.store.SetBlockingCondition(category, value, enabled)
	logger.Debug("blocking condition updated",
		zap.String("category", category.String()),
		zap.String("value", value),
		zap.Bool("enabled", enabled),
		zap.Bool("changed", changed),
		zap.String("tenantDomain", record.Get(domain.FieldTenantDomain)),
	)
	return nil
}

func (l *EventListener) applyKeyTemplate(logger *zap.Logger, record queue.EventRecord) error {
	value := record.Get(domain.FieldKeyTemplateValue)
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is empty", domain.ErrValidation, domain.FieldKeyTemplateValue)
	}

	active := strings.EqualFold(strings.TrimSpace(record.Get(domain.FieldKeyTemplateState)), domain.KeyTemplateAdd)
	changed := l.store.SetKeyTemplate(value, active)
	logger.Debug("key template updated",
		zap.String("keyTemplate", value),
		zap.Bool("active", active),
		zap.Bool("changed", changed),
	)
	return nil
}

func fieldNames(record queue.EventRecord) []string {
	names := make([]string, 0, len(record))
	for field := range record {
		names = append(names, field)
	}
	sort.Strings(names)
	return names
}
