package scheduler

import (
	"context"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is a unit of recurring work driven by the scheduler
type Job interface {
	Run(ctx context.Context) error
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err))
}

// Scheduler drives the evaluation job on a cron cadence. Overlapping runs
// are suppressed: the evaluation pass is not designed to run concurrently
// with itself.
type Scheduler struct {
	logger *zap.Logger
	cron   *cron.Cron
}

// New creates a scheduler
func New(logger *zap.Logger) *Scheduler {
	cl := &cronLogger{logger: logger.Named("cron")}
	return &Scheduler{
		logger: logger.Named("scheduler"),
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cl)),
		),
	}
}

// Schedule registers a job under a cron expression
func (s *Scheduler) Schedule(ctx context.Context, expression, name string, job Job) error {
	var running atomic.Bool

	_, err := s.cron.AddFunc(expression, func() {
		if !running.CompareAndSwap(false, true) {
			s.logger.Warn("Previous run still in progress, skipping tick",
				zap.String("job", name))
			return
		}
		defer running.Store(false)

		if err := job.Run(ctx); err != nil {
			s.logger.Error("Scheduled job failed",
				zap.String("job", name),
				zap.Error(err))
		}
	})
	if err != nil {
		return err
	}

	s.logger.Info("Scheduled job",
		zap.String("job", name),
		zap.String("expression", expression))
	return nil
}

// Start starts the cron loop
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the cron loop and waits for in-flight runs
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
