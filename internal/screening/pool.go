package screening

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	screenerrors "github.com/spigell/screener/internal/errors"
	"github.com/spigell/screener/internal/logger"
	"github.com/spigell/screener/internal/retry"
)

const defaultPoolWorkers = 4

// PoolOptions configures the in-process worker pool.
type PoolOptions struct {
	Workers     int           `mapstructure:"workers"`
	MaxAttempts int           `mapstructure:"max-attempts"`
	BaseDelay   time.Duration `mapstructure:"base-delay"`

	// Wait overrides the delay between attempts, mainly for tests.
	Wait func(ctx context.Context, d time.Duration) error `mapstructure:"-"`
}

// Pool screens applications on a bounded number of goroutines. Each unit is
// retried on its own when the error is retriable; a failing unit never stops
// its siblings.
type Pool struct {
	workers int
	policy  retry.Policy
	logger  *zap.Logger
}

func NewPool(opts PoolOptions, log *zap.Logger) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultPoolWorkers
	}

	p := &Pool{workers: opts.Workers, logger: log}
	p.policy = retry.Policy{
		MaxAttempts: opts.MaxAttempts,
		BaseDelay:   opts.BaseDelay,
		Wait:        opts.Wait,
		Classify: func(err error) retry.Decision {
			return retry.Decision{Retry: screenerrors.IsRetriable(err)}
		},
	}
	return p
}

// TaskResult pairs a task with its outcome or final error.
type TaskResult struct {
	Task    ApplicationTask
	Outcome *Outcome
	Err     error
}

type poolStats struct {
	done   int32
	failed int32
}

// Run executes every task and returns the results in task order.
func (p *Pool) Run(ctx context.Context, tasks []ApplicationTask, handle func(context.Context, ApplicationTask) (*Outcome, error)) []TaskResult {
	results := make([]TaskResult, len(tasks))
	if len(tasks) == 0 {
		return results
	}

	workers := p.workers
	if workers > len(tasks) {
		workers = len(tasks)
	}

	indexes := make(chan int)
	stats := &poolStats{}
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range indexes {
				results[idx] = p.runOne(ctx, tasks[idx], handle)
				if results[idx].Err != nil {
					atomic.AddInt32(&stats.failed, 1)
					continue
				}
				atomic.AddInt32(&stats.done, 1)
			}
		}()
	}

feed:
	for i := range tasks {
		select {
		case indexes <- i:
		case <-ctx.Done():
			for j := i; j < len(tasks); j++ {
				results[j] = TaskResult{Task: tasks[j], Err: ctx.Err()}
				atomic.AddInt32(&stats.failed, 1)
			}
			break feed
		}
	}
	close(indexes)
	wg.Wait()

	p.logger.Debug("pool finished",
		zap.Int("tasks", len(tasks)),
		zap.Int32("done", atomic.LoadInt32(&stats.done)),
		zap.Int32("failed", atomic.LoadInt32(&stats.failed)),
	)
	return results
}

func (p *Pool) runOne(ctx context.Context, task ApplicationTask, handle func(context.Context, ApplicationTask) (*Outcome, error)) TaskResult {
	policy := p.policy
	policy.OnRetry = func(attempt int, wait time.Duration, err error) {
		logger.WithScreeningFields(p.logger, task.RunID, task.JobID, task.ApplicationID).Warn(
			"application unit failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	}

	outcome, err := retry.Do(ctx, policy, func(ctx context.Context) (*Outcome, error) {
		return handle(ctx, task)
	})
	return TaskResult{Task: task, Outcome: outcome, Err: err}
}
