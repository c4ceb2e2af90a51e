// Package scheduler drives the pipeline and projection sync on a fixed
// interval. Ticks are strictly serial and individually recovered: one bad
// tick never stops the loop.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// PipelineRunner runs one pricing tick.
type PipelineRunner interface {
	Run(ctx context.Context) error
}

// ProjectionSyncer runs the backend projection sync.
type ProjectionSyncer interface {
	Run(ctx context.Context) error
	MissingInBackend(ctx context.Context) ([]string, error)
}

// Scheduler is the single-threaded driver.
type Scheduler struct {
	pipeline     PipelineRunner
	syncer       ProjectionSyncer // nil when backend credentials are absent
	interval     time.Duration
	runOnStartup bool
	logger       zerolog.Logger
}

// New creates a Scheduler. syncer may be nil to disable the projection sync.
func New(pipeline PipelineRunner, syncer ProjectionSyncer, interval time.Duration, runOnStartup bool, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		pipeline:     pipeline,
		syncer:       syncer,
		interval:     interval,
		runOnStartup: runOnStartup,
		logger:       logger,
	}
}

// RunOnce executes a single tick and returns its error.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	return s.tick(ctx)
}

// Loop runs ticks every interval until the context is cancelled. Tick
// errors are logged and swallowed. Each sleep anchors on the tick's start
// time so the cadence stays fixed regardless of tick duration.
func (s *Scheduler) Loop(ctx context.Context) error {
	if !s.runOnStartup {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.interval):
		}
	}

	for {
		start := time.Now()
		s.guardedTick(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		sleep := time.Until(start.Add(s.interval))
		if sleep < 0 {
			sleep = 0
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// guardedTick runs one tick, recovering panics and logging errors so the
// loop continues.
func (s *Scheduler) guardedTick(ctx context.Context) {
	if err := s.tick(ctx); err != nil {
		s.logger.Error().Err(err).Msg("scheduler_iteration_failed")
	}
}

func (s *Scheduler) tick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panicked: %v", r)
		}
	}()

	start := time.Now()
	s.logger.Info().Msg("scheduler_iteration_started")

	if s.syncer != nil {
		missing, merr := s.syncer.MissingInBackend(ctx)
		if merr != nil {
			s.logger.Warn().Err(merr).Msg("missing_models_check_failed")
		} else if len(missing) > 0 {
			s.logger.Info().Strs("models", missing).Msg("found_missing_models_in_backend")
		}
	}

	if err := s.pipeline.Run(ctx); err != nil {
		return fmt.Errorf("pipeline failed: %w", err)
	}

	if s.syncer != nil {
		if err := s.syncer.Run(ctx); err != nil {
			return fmt.Errorf("backend sync failed: %w", err)
		}
	} else {
		s.logger.Info().Msg("backend_sync_disabled")
	}

	s.logger.Info().Dur("duration", time.Since(start)).Msg("scheduler_iteration_completed")
	return nil
}
