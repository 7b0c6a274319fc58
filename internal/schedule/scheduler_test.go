package schedule

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name  string
	runs  atomic.Int32
	panic bool
}

func (j *countingJob) Name() string {
	return j.name
}

func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.panic {
		panic("boom")
	}
	return nil
}

func TestCronScheduler_AddJob(t *testing.T) {
	s := NewCronScheduler()
	require.NoError(t, s.AddJob(&countingJob{name: "disabled"}, ""))
	require.NoError(t, s.AddJob(&countingJob{name: "hourly"}, "0 * * * *"))
	require.NoError(t, s.AddJob(&countingJob{name: "daily"}, "@daily"))
	require.Error(t, s.AddJob(&countingJob{name: "hourly"}, "5 * * * *"))
	require.Error(t, s.AddJob(&countingJob{name: "broken"}, "not a spec"))
	require.Equal(t, []string{"daily", "hourly"}, s.Scheduled())
}

func TestCronScheduler_SkipsOverlappingRun(t *testing.T) {
	s := NewCronScheduler()
	release := make(chan struct{})
	job := &blockingJob{started: make(chan struct{}), release: release}
	run := s.wrap(job, "@every 1s")

	done := make(chan struct{})
	go func() {
		run()
		close(done)
	}()
	<-job.started
	run()
	close(release)
	<-done
	require.Equal(t, int32(1), job.runs.Load())
}

type blockingJob struct {
	runs    atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (j *blockingJob) Name() string {
	return "blocking"
}

func (j *blockingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	close(j.started)
	<-j.release
	return nil
}

func TestCronScheduler_WrapRecoversPanics(t *testing.T) {
	s := NewCronScheduler()
	s.Start(context.Background())
	defer s.Stop()

	job := &countingJob{name: "panicky", panic: true}
	run := s.wrap(job, "@hourly")
	require.NotPanics(t, run)
	require.NotPanics(t, run)
	require.Equal(t, int32(2), job.runs.Load())
}
