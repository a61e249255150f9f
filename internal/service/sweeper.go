package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/throttle-sync/internal/domain"
	"github.com/kursadbilgin/throttle-sync/internal/observability"
	"github.com/kursadbilgin/throttle-sync/internal/throttle"
	"go.uber.org/zap"
)

const defaultSweepInterval = time.Second

// ThrottleStateEvictor is the part of the throttle store the sweeper maintains.
type ThrottleStateEvictor interface {
	EvictExpired() throttle.Eviction
	Stats() throttle.Stats
}

// ExpirySweeper periodically evicts expired throttle records so that lost
// removal events cannot leave a condition or entity throttled forever.
type ExpirySweeper struct {
	store    ThrottleStateEvictor
	logger   *zap.Logger
	metrics  *observability.Metrics
	interval time.Duration
	now      func() time.Time
}

func NewExpirySweeper(store ThrottleStateEvictor, interval time.Duration, logger *zap.Logger) (*ExpirySweeper, error) {
	if store == nil {
		return nil, fmt.Errorf("throttle store is required")
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ExpirySweeper{
		store:    store,
		logger:   logger,
		interval: interval,
		now:      time.Now,
	}, nil
}

func (s *ExpirySweeper) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *ExpirySweeper) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.sweep()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *ExpirySweeper) sweep() throttle.Eviction {
	start := s.now()
	evicted := s.store.EvictExpired()
	s.metrics.ObserveSweepDuration(s.now().Sub(start))

	if evicted.Conditions > 0 || evicted.Entities > 0 {
		s.logger.Debug("expired throttle state evicted",
			zap.Int("conditions", evicted.Conditions),
			zap.Int("entities", evicted.Entities),
		)
	}

	if s.metrics != nil {
		s.metrics.AddEvictions("condition", evicted.Conditions)
		s.metrics.AddEvictions("entity", evicted.Entities)

		stats := s.store.Stats()
		s.metrics.SetStoreEntries("condition", stats.Conditions)
		s.metrics.SetStoreEntries("entity", stats.Entities)
		s.metrics.SetStoreEntries("key_template", stats.KeyTemplates)
		for _, category := range domain.BlockingCategories {
			s.metrics.SetStoreEntries("blocking_"+category.String(), stats.Blocking[category])
		}
	}

	return evicted
}
