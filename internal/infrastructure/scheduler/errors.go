package scheduler

import "errors"

var (
	// ErrSchedulerNotRunning is returned when running a job on a stopped scheduler
	ErrSchedulerNotRunning = errors.New("scheduler is not running")

	// ErrJobNotFound is returned when a job name is unknown
	ErrJobNotFound = errors.New("job not found")

	// ErrDuplicateJob is returned when a job name is registered twice
	ErrDuplicateJob = errors.New("job already registered")

	// ErrInvalidConfig is returned when a job definition is invalid
	ErrInvalidConfig = errors.New("invalid job configuration")
)
