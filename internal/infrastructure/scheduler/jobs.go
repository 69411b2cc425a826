package scheduler

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/xpgateway/backend/internal/domain/gateway"
)

const (
	DefaultRollupSchedule  = "*/5 * * * *"
	DefaultCleanupSchedule = "0 3 * * *"
	DefaultSweepSchedule   = "@every 1m"
)

// AnalyticsRoller is the part of the analytics roller the jobs drive
type AnalyticsRoller interface {
	RollupPrevious(ctx context.Context) ([]gateway.AnalyticsRollup, error)
	Cleanup(ctx context.Context) (int64, error)
}

// RollupJob summarizes the previous analytics window
func RollupJob(roller AnalyticsRoller, schedule string) Job {
	if schedule == "" {
		schedule = DefaultRollupSchedule
	}
	return Job{
		Name:     "analytics-rollup",
		Schedule: schedule,
		Timeout:  2 * time.Minute,
		Run: func(ctx context.Context) error {
			_, err := roller.RollupPrevious(ctx)
			return err
		},
	}
}

// RetentionJob deletes raw analytics records past retention
func RetentionJob(roller AnalyticsRoller, schedule string) Job {
	if schedule == "" {
		schedule = DefaultCleanupSchedule
	}
	return Job{
		Name:     "analytics-retention",
		Schedule: schedule,
		Timeout:  30 * time.Minute,
		Run: func(ctx context.Context) error {
			_, err := roller.Cleanup(ctx)
			return err
		},
	}
}

// SweepJob drops expired entries from in-process stores. Each sweeper
// returns the number of entries it removed.
func SweepJob(schedule string, sweepers map[string]func() int, logger *zap.Logger) Job {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	names := make([]string, 0, len(sweepers))
	for name := range sweepers {
		names = append(names, name)
	}
	sort.Strings(names)

	return Job{
		Name:     "memory-sweep",
		Schedule: schedule,
		Timeout:  time.Minute,
		Run: func(ctx context.Context) error {
			var errs []error
			for _, name := range names {
				if err := ctx.Err(); err != nil {
					errs = append(errs, err)
					break
				}
				if n := sweepers[name](); n > 0 {
					logger.Debug("Expired entries swept", zap.String("store", name), zap.Int("removed", n))
				}
			}
			return errors.Join(errs...)
		},
	}
}
