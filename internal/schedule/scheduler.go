// Package schedule runs maintenance jobs on cron specs.
package schedule

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mrag/internal/metrics"
)

type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// CronScheduler runs each job on its own spec. A run that is still going when
// the next tick fires causes that tick to be skipped.
type CronScheduler struct {
	cron  *cron.Cron
	names map[string]struct{}
	base  atomic.Pointer[context.Context]
}

func NewCronScheduler() *CronScheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &CronScheduler{
		cron:  cron.New(cron.WithParser(parser)),
		names: make(map[string]struct{}),
	}
}

// AddJob schedules job on a cron spec. An empty spec leaves the job disabled.
func (s *CronScheduler) AddJob(job Job, spec string) error {
	name := job.Name()
	logger := logutil.GetLogger(context.Background()).With(zap.String("job", name))
	if spec == "" {
		logger.Info("job disabled")
		return nil
	}
	if _, dup := s.names[name]; dup {
		return fmt.Errorf("job %s already scheduled", name)
	}
	if _, err := s.cron.AddFunc(spec, s.wrap(job, spec)); err != nil {
		return fmt.Errorf("schedule job %s with %q: %w", name, spec, err)
	}
	s.names[name] = struct{}{}
	logger.Info("job scheduled", zap.String("spec", spec))
	return nil
}

// Start begins ticking. Job runs inherit ctx, so cancelling it aborts
// in-flight work.
func (s *CronScheduler) Start(ctx context.Context) {
	s.base.Store(&ctx)
	s.cron.Start()
}

// Stop waits for running jobs to return.
func (s *CronScheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *CronScheduler) Scheduled() []string {
	out := make([]string, 0, len(s.names))
	for name := range s.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *CronScheduler) runContext() context.Context {
	if p := s.base.Load(); p != nil {
		return *p
	}
	return context.Background()
}

func (s *CronScheduler) wrap(job Job, spec string) func() {
	var busy atomic.Bool
	return func() {
		ctx := s.runContext()
		logger := logutil.GetLogger(ctx).With(zap.String("job", job.Name()), zap.String("spec", spec))
		if !busy.CompareAndSwap(false, true) {
			metrics.JobRuns.WithLabelValues(job.Name(), "skipped").Inc()
			logger.Info("previous run still active, skip")
			return
		}
		defer busy.Store(false)

		start := time.Now()
		err := runGuarded(ctx, job)
		took := time.Since(start)
		if err != nil {
			metrics.JobRuns.WithLabelValues(job.Name(), "error").Inc()
			logger.Error("job failed", zap.Duration("took", took), zap.Error(err))
			return
		}
		metrics.JobRuns.WithLabelValues(job.Name(), "ok").Inc()
		logger.Info("job done", zap.Duration("took", took))
	}
}

func runGuarded(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return job.Run(ctx)
}
