package jobs

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler runs registered jobs on cron specs in UTC.
type Scheduler struct {
	cron    *cron.Cron
	lg      *zap.Logger
	timeout time.Duration
}

// NewScheduler creates a Scheduler. Specs include a seconds field. Each run
// gets its own context bounded by timeout.
func NewScheduler(lg *zap.Logger, timeout time.Duration) *Scheduler {
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		lg:      lg,
		timeout: timeout,
	}
}

// Add registers fn under name. An empty spec disables the job.
func (s *Scheduler) Add(name, spec string, fn func(ctx context.Context) error) error {
	if spec == "" {
		s.lg.Info("Job disabled", zap.String("job", name))
		return nil
	}
	_, err := s.cron.AddFunc(spec, func() {
		ctx := context.Background()
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		start := time.Now()
		if err := fn(ctx); err != nil {
			s.lg.Error("Job failed", zap.String("job", name), zap.Error(err))
			return
		}
		s.lg.Debug("Job finished", zap.String("job", name), zap.Duration("took", time.Since(start)))
	})
	if err != nil {
		return errors.Wrapf(err, "register job %q", name)
	}
	return nil
}

// Run starts the scheduler and blocks until ctx is done, then waits for
// running jobs.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}

// Entries reports how many jobs are registered.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
