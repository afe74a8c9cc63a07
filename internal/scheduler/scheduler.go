// Package scheduler triggers extraction runs on a cron cadence.
package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"gridsync/internal/domain"
)

// Runner is the work a schedule fires. Satisfied by pipeline.Pipeline.
type Runner interface {
	Run(ctx context.Context, days int) domain.RunResult
}

type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	days   int
	logger *zap.Logger
}

// New builds a scheduler that fires the runner on the given cron expression.
// The expression is validated here so a bad schedule fails startup instead
// of never firing.
func New(runner Runner, schedule string, days int, logger *zap.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:   cron.New(),
		runner: runner,
		days:   days,
		logger: logger,
	}
	if _, err := s.cron.AddFunc(schedule, s.fire); err != nil {
		return nil, fmt.Errorf("invalid run schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop halts scheduling and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// fire executes one scheduled run. The run lock arbitrates against manual
// triggers racing the schedule, and the pipeline logs its own outcome.
func (s *Scheduler) fire() {
	s.logger.Info("scheduled run triggered")
	s.runner.Run(context.Background(), s.days)
}
