package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Expirer marks overdue projects as expired
type Expirer interface {
	ExpireOverdue(ctx context.Context) ([]string, error)
}

// ExpirySweeper periodically expires active projects past their end date.
// It never touches completed projects.
type ExpirySweeper struct {
	scheduler gocron.Scheduler
	expirer   Expirer
	interval  time.Duration
	timeout   time.Duration
	logger    *zap.Logger
}

// NewExpirySweeper creates a sweeper running every interval
func NewExpirySweeper(expirer Expirer, interval time.Duration, logger *zap.Logger) (*ExpirySweeper, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("expiry sweep interval must be positive, got %s", interval)
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	sweeper := &ExpirySweeper{
		scheduler: s,
		expirer:   expirer,
		interval:  interval,
		timeout:   interval,
		logger:    logger,
	}

	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(sweeper.Sweep),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register expiry job: %w", err)
	}

	return sweeper, nil
}

// Sweep runs one expiry pass
func (s *ExpirySweeper) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	ids, err := s.expirer.ExpireOverdue(ctx)
	if err != nil {
		s.logger.Error("expiry sweep failed", zap.Error(err))
		return
	}
	if len(ids) > 0 {
		s.logger.Info("expiry sweep finished", zap.Int("expired", len(ids)))
	}
}

// Start begins scheduling
func (s *ExpirySweeper) Start() {
	s.scheduler.Start()
	s.logger.Info("expiry sweeper started", zap.Duration("interval", s.interval))
}

// Stop waits for a running sweep and shuts the scheduler down
func (s *ExpirySweeper) Stop() error {
	return s.scheduler.Shutdown()
}
