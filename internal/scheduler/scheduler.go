// Package scheduler runs the periodic sweep for jobs whose application
// deadline has passed.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const DefaultSpec = "@every 5m"

// Sweeper is implemented by *screening.Orchestrator.
type Sweeper interface {
	SweepDueJobs(ctx context.Context) (int, error)
}

// Scheduler wraps robfig/cron. A sweep still running when the next tick fires
// makes that tick a no-op; this includes the sweep run at start.
type Scheduler struct {
	cron    *cron.Cron
	chain   cron.Chain
	job     cron.Job
	sweeper Sweeper
	spec    string
	logger  *zap.Logger
	initial sync.WaitGroup
}

func New(sweeper Sweeper, spec string, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if spec == "" {
		spec = DefaultSpec
	}
	cronLogger := zapCronLogger{logger.Sugar()}
	return &Scheduler{
		cron:    cron.New(cron.WithLogger(cronLogger)),
		chain:   cron.NewChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		sweeper: sweeper,
		spec:    spec,
		logger:  logger,
	}
}

// Start registers the sweep and starts the scheduler. One sweep also runs
// right away through the same wrapped job, so it never overlaps a tick.
func (s *Scheduler) Start(ctx context.Context) error {
	schedule, err := cron.ParseStandard(s.spec)
	if err != nil {
		return fmt.Errorf("parse sweep schedule %q: %w", s.spec, err)
	}

	s.job = s.chain.Then(cron.FuncJob(func() { s.RunSweep(ctx) }))
	s.cron.Schedule(schedule, s.job)

	s.cron.Start()
	s.logger.Info("sweep scheduler started", zap.String("spec", s.spec))

	s.initial.Add(1)
	go func() {
		defer s.initial.Done()
		s.job.Run()
	}()
	return nil
}

// Stop stops the scheduler and waits for running sweeps until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-stopped.Done()
		s.initial.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("sweep scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running sweep: %w", ctx.Err())
	}
}

// RunSweep runs a single sweep and logs its result.
func (s *Scheduler) RunSweep(ctx context.Context) {
	started, err := s.sweeper.SweepDueJobs(ctx)
	if err != nil {
		s.logger.Error("sweep finished with errors", zap.Int("jobs", started), zap.Error(err))
		return
	}
	if started == 0 {
		s.logger.Debug("sweep found no due jobs")
		return
	}
	s.logger.Info("sweep started screening", zap.Int("jobs", started))
}

// zapCronLogger routes cron's own messages through zap.
type zapCronLogger struct {
	sugar *zap.SugaredLogger
}

func (l zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
