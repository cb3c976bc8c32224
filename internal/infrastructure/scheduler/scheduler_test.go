package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// countingJob counts executions and can block or fail on demand.
type countingJob struct {
	name    string
	runs    atomic.Int64
	err     error
	blockCh chan struct{}
}

func (j *countingJob) Name() string        { return j.name }
func (j *countingJob) Description() string { return "test job" }

func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.blockCh != nil {
		select {
		case <-j.blockCh:
		case <-ctx.Done():
		}
	}
	return j.err
}

func quietScheduler(tickRate time.Duration) *Scheduler {
	return New(Config{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		TickRate: tickRate,
	})
}

func TestScheduler_RegisterValidation(t *testing.T) {
	s := quietScheduler(time.Second)
	schedule := NewIntervalSchedule(time.Minute)

	assert.ErrorIs(t, s.Register(nil, schedule), ErrNilJob)
	assert.ErrorIs(t, s.Register(&countingJob{name: "a"}, nil), ErrNilSchedule)

	assert.NoError(t, s.Register(&countingJob{name: "a"}, schedule))
	assert.ErrorIs(t, s.Register(&countingJob{name: "a"}, schedule), ErrJobAlreadyExists)
}

func TestScheduler_Lifecycle(t *testing.T) {
	s := quietScheduler(time.Second)

	assert.False(t, s.IsRunning())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)

	assert.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)

	assert.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
}

func TestScheduler_RunsDueJobs(t *testing.T) {
	s := quietScheduler(5 * time.Millisecond)
	job := &countingJob{name: "sweep"}
	assert.NoError(t, s.Register(job, NewIntervalSchedule(10*time.Millisecond)))

	assert.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop() }()

	assert.Eventually(t, func() bool {
		return job.runs.Load() >= 2
	}, time.Second, 5*time.Millisecond, "job should run repeatedly on its interval")
}

func TestScheduler_SlowJobDoesNotOverlap(t *testing.T) {
	s := quietScheduler(5 * time.Millisecond)
	job := &countingJob{name: "slow", blockCh: make(chan struct{})}
	assert.NoError(t, s.Register(job, NewIntervalSchedule(10*time.Millisecond)))

	assert.NoError(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return job.runs.Load() == 1
	}, time.Second, 5*time.Millisecond)

	// Ticks keep firing while the job blocks; it must not start again.
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int64(1), job.runs.Load())

	close(job.blockCh)
	assert.NoError(t, s.Stop())
}

func TestScheduler_DisabledJobDoesNotRun(t *testing.T) {
	s := quietScheduler(5 * time.Millisecond)
	job := &countingJob{name: "paused"}
	assert.NoError(t, s.Register(job, NewIntervalSchedule(10*time.Millisecond)))
	assert.NoError(t, s.DisableJob("paused"))

	assert.NoError(t, s.Start(context.Background()))
	time.Sleep(60 * time.Millisecond)
	assert.NoError(t, s.Stop())

	assert.Equal(t, int64(0), job.runs.Load())

	assert.ErrorIs(t, s.DisableJob("missing"), ErrJobNotFound)
	assert.ErrorIs(t, s.EnableJob("missing"), ErrJobNotFound)
}

func TestScheduler_RunNow(t *testing.T) {
	s := quietScheduler(time.Hour)
	job := &countingJob{name: "sweep"}
	assert.NoError(t, s.Register(job, NewIntervalSchedule(time.Hour)))

	result, err := s.RunNow(context.Background(), "sweep")
	assert.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "sweep", result.JobName)
	assert.Equal(t, int64(1), job.runs.Load())

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestScheduler_RunNowSurfacesJobError(t *testing.T) {
	s := quietScheduler(time.Hour)
	boom := errors.New("boom")
	assert.NoError(t, s.Register(&countingJob{name: "broken", err: boom}, NewIntervalSchedule(time.Hour)))

	result, err := s.RunNow(context.Background(), "broken")
	assert.ErrorIs(t, err, boom)
	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Error, boom)
}

func TestScheduler_ListJobs(t *testing.T) {
	s := quietScheduler(time.Hour)
	assert.NoError(t, s.Register(&countingJob{name: "sweep"}, NewIntervalSchedule(time.Minute)))

	jobs := s.ListJobs()
	assert.Len(t, jobs, 1)
	assert.Equal(t, "sweep", jobs[0].Name)
	assert.True(t, jobs[0].Enabled)
	assert.Equal(t, "@every 1m0s", jobs[0].Schedule)
	assert.False(t, jobs[0].NextRun.IsZero())
}

func TestIntervalSchedule_Next(t *testing.T) {
	now := time.Now()

	plain := NewIntervalSchedule(time.Minute)
	assert.Equal(t, now.Add(time.Minute), plain.Next(now))
	assert.Equal(t, "@every 1m0s", plain.String())

	jittered := &IntervalSchedule{Interval: time.Minute, Jitter: 10 * time.Second}
	for i := 0; i < 50; i++ {
		next := jittered.Next(now)
		assert.False(t, next.Before(now.Add(time.Minute)))
		assert.True(t, next.Before(now.Add(time.Minute+10*time.Second)))
	}
	assert.Equal(t, "@every 1m0s (jitter 10s)", jittered.String())
}
