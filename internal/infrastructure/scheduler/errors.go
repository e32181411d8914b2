package scheduler

import "errors"

var (
	// ErrSchedulerNotRunning is returned when trying to submit a job to a stopped scheduler
	ErrSchedulerNotRunning = errors.New("scheduler is not running")

	// ErrJobQueueFull is returned when the job queue is full
	ErrJobQueueFull = errors.New("job queue is full")

	// ErrJobAlreadyQueued is returned when a job with the same kind and source is pending or running
	ErrJobAlreadyQueued = errors.New("job already queued")

	// ErrJobSkipped marks a job that ran but had nothing to do, such as a
	// source whose previous run still holds its lock
	ErrJobSkipped = errors.New("job skipped")

	// ErrUnknownJobKind is returned for jobs the executor cannot run
	ErrUnknownJobKind = errors.New("unknown job kind")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid scheduler configuration")

	// ErrInvalidSchedule is returned for cron expressions that do not parse
	ErrInvalidSchedule = errors.New("invalid schedule")
)
