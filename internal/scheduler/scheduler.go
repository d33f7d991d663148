// Package scheduler triggers global sourcing runs on a fixed interval.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-product-sourcing/internal/sourcing"
)

// Trigger admits a run for family; nil means every family.
type Trigger interface {
	Trigger(ctx context.Context, family *sourcing.Family, category string) sourcing.TriggerResult
}

// Scheduler fires a global trigger every interval.
type Scheduler struct {
	trigger  Trigger
	interval time.Duration
	logger   *zap.Logger
	tick     func(time.Duration) (<-chan time.Time, func())
}

// New constructs a Scheduler. A non-positive interval disables it.
func New(trigger Trigger, interval time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		trigger:  trigger,
		interval: interval,
		logger:   logger,
		tick: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
}

// Enabled reports whether Run will fire triggers.
func (s *Scheduler) Enabled() bool {
	return s.interval > 0
}

// Run blocks until ctx is done. A busy coordinator is not an error; the tick
// is skipped and logged.
func (s *Scheduler) Run(ctx context.Context) {
	if !s.Enabled() {
		s.logger.Info("scheduler disabled")
		return
	}
	ticks, stop := s.tick(s.interval)
	defer stop()
	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			s.fire(ctx)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context) {
	res := s.trigger.Trigger(ctx, nil, "")
	switch res.Status {
	case sourcing.TriggerSuccess:
		s.logger.Info("scheduled run accepted", zap.String("run_id", res.RunID))
	case sourcing.TriggerRunning:
		s.logger.Info("scheduled run skipped", zap.String("reason", res.Message))
	default:
		s.logger.Warn("scheduled run rejected", zap.String("reason", res.Message))
	}
}
