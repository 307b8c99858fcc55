package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ArxivMind/internal/ports"
)

// Scheduler wires the daily trigger with the pipeline use case.
type Scheduler struct {
	driver   ports.Scheduler
	pipeline *Pipeline
	logger   *slog.Logger

	// runs are serialized so a slow run never overlaps the next trigger.
	mu sync.Mutex
}

// NewScheduler returns a helper to start/stop recurring runs.
func NewScheduler(driver ports.Scheduler, pipeline *Pipeline, logger *slog.Logger) *Scheduler {
	return &Scheduler{driver: driver, pipeline: pipeline, logger: loggerOrDiscard(logger)}
}

// Start registers the pipeline with the provided scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.pipeline == nil {
		return nil
	}

	job := func(trigger time.Time) {
		s.mu.Lock()
		defer s.mu.Unlock()

		s.logger.Info("scheduled run", "trigger", trigger)
		if _, err := s.pipeline.RunDaily(ctx, trigger); err != nil {
			s.logger.Error("scheduled run failed", "error", err)
		}
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
