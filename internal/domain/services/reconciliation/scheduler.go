package reconciliation

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/vaultpay/wallet_service/internal/infrastructure/config"
)

// Scheduler drives the periodic reconciliation run and the stale-processing
// sweep on cron schedules
type Scheduler struct {
	config     *config.ReconciliationConfig
	service    *Service
	sweeper    *Sweeper
	cron       *cron.Cron
	jobTimeout time.Duration
	logger     *zap.Logger
}

// NewScheduler creates a reconciliation scheduler
func NewScheduler(cfg *config.ReconciliationConfig, service *Service, sweeper *Sweeper, jobTimeout time.Duration, logger *zap.Logger) *Scheduler {
	if jobTimeout <= 0 {
		jobTimeout = 5 * time.Minute
	}
	return &Scheduler{
		config:     cfg,
		service:    service,
		sweeper:    sweeper,
		cron:       cron.New(),
		jobTimeout: jobTimeout,
		logger:     logger,
	}
}

// Start registers the cron jobs and begins the schedule
func (s *Scheduler) Start() error {
	if !s.config.Enabled {
		s.logger.Info("reconciliation scheduler disabled")
		return nil
	}

	if _, err := s.cron.AddFunc(s.config.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
		defer cancel()
		if _, err := s.service.Run(ctx, "scheduled"); err != nil {
			s.logger.Error("scheduled reconciliation run failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc(s.config.SweepSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
		defer cancel()
		if _, err := s.sweeper.Sweep(ctx); err != nil {
			s.logger.Error("stale-processing sweep failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("reconciliation scheduler started",
		zap.String("run_schedule", s.config.Schedule),
		zap.String("sweep_schedule", s.config.SweepSchedule))
	return nil
}

// Stop halts the schedule and waits for running jobs to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("reconciliation scheduler stopped")
}
