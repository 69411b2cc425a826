package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xpgateway/backend/internal/domain/gateway"
)

func TestScheduler_RegisterValidation(t *testing.T) {
	s := NewScheduler(zaptest.NewLogger(t))
	noop := func(context.Context) error { return nil }

	err := s.Register(Job{Schedule: "@every 1m", Run: noop})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	err = s.Register(Job{Name: "bad", Schedule: "not a schedule", Run: noop})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	require.NoError(t, s.Register(Job{Name: "ok", Schedule: "*/5 * * * *", Run: noop}))
	assert.ErrorIs(t, s.Register(Job{Name: "ok", Schedule: "@daily", Run: noop}), ErrDuplicateJob)
}

func TestScheduler_RunNowTracksState(t *testing.T) {
	s := NewScheduler(zaptest.NewLogger(t))
	fail := atomic.Bool{}
	require.NoError(t, s.Register(Job{
		Name:     "flaky",
		Schedule: "@hourly",
		Run: func(context.Context) error {
			if fail.Load() {
				return errors.New("boom")
			}
			return nil
		},
	}))

	require.NoError(t, s.RunNow(context.Background(), "flaky"))
	fail.Store(true)
	assert.EqualError(t, s.RunNow(context.Background(), "flaky"), "boom")

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, JobStatusFailed, jobs[0].Status)
	assert.Equal(t, int64(2), jobs[0].Runs)
	assert.Equal(t, int64(1), jobs[0].Failures)
	assert.Equal(t, "boom", jobs[0].LastError)
	assert.NotNil(t, jobs[0].LastRun)
	assert.Nil(t, jobs[0].NextRun, "not running")

	assert.ErrorIs(t, s.RunNow(context.Background(), "missing"), ErrJobNotFound)
}

func TestScheduler_PanicIsReportedAsFailure(t *testing.T) {
	s := NewScheduler(zaptest.NewLogger(t))
	require.NoError(t, s.Register(Job{
		Name:     "panics",
		Schedule: "@hourly",
		Run:      func(context.Context) error { panic("bad job") },
	}))

	err := s.RunNow(context.Background(), "panics")
	assert.ErrorContains(t, err, "bad job")
}

func TestScheduler_TimeoutCancelsJob(t *testing.T) {
	s := NewScheduler(zaptest.NewLogger(t))
	require.NoError(t, s.Register(Job{
		Name:     "slow",
		Schedule: "@hourly",
		Timeout:  10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}))

	assert.ErrorIs(t, s.RunNow(context.Background(), "slow"), context.DeadlineExceeded)
}

func TestScheduler_FiresOnSchedule(t *testing.T) {
	s := NewScheduler(zaptest.NewLogger(t))
	var runs atomic.Int32
	require.NoError(t, s.Register(Job{
		Name:     "tick",
		Schedule: "@every 1s",
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	}))

	require.NoError(t, s.Start(context.Background()))
	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.NotNil(t, jobs[0].NextRun)

	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx), "second stop is a no-op")
}

type fakeRoller struct {
	rollups  atomic.Int32
	cleanups atomic.Int32
	err      error
}

func (f *fakeRoller) RollupPrevious(context.Context) ([]gateway.AnalyticsRollup, error) {
	f.rollups.Add(1)
	return nil, f.err
}

func (f *fakeRoller) Cleanup(context.Context) (int64, error) {
	f.cleanups.Add(1)
	return 3, f.err
}

func TestAnalyticsJobs(t *testing.T) {
	roller := &fakeRoller{}
	s := NewScheduler(zaptest.NewLogger(t))

	rollup := RollupJob(roller, "")
	assert.Equal(t, DefaultRollupSchedule, rollup.Schedule)
	retention := RetentionJob(roller, "0 4 * * *")
	assert.Equal(t, "0 4 * * *", retention.Schedule)

	require.NoError(t, s.Register(rollup))
	require.NoError(t, s.Register(retention))

	require.NoError(t, s.RunNow(context.Background(), "analytics-rollup"))
	require.NoError(t, s.RunNow(context.Background(), "analytics-retention"))
	assert.Equal(t, int32(1), roller.rollups.Load())
	assert.Equal(t, int32(1), roller.cleanups.Load())

	roller.err = errors.New("db down")
	assert.Error(t, s.RunNow(context.Background(), "analytics-rollup"))
}

func TestSweepJob(t *testing.T) {
	var order []string
	job := SweepJob("", map[string]func() int{
		"tags":      func() int { order = append(order, "tags"); return 2 },
		"ratelimit": func() int { order = append(order, "ratelimit"); return 0 },
	}, zaptest.NewLogger(t))

	assert.Equal(t, DefaultSweepSchedule, job.Schedule)
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, []string{"ratelimit", "tags"}, order)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, job.Run(ctx), context.Canceled)
}
