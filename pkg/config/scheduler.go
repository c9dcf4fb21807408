package config

import "time"

// SchedulerConfig configures the scheduler (C10): the run-loop tuning shared
// by every scheduled job plus the list of jobs to run (§4.10).
type SchedulerConfig struct {
	// PollInterval is the base interval the scheduler's run-loop sleeps
	// between tick checks, before per-job jitter is applied.
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`

	// PollIntervalJitter adds up to this much random jitter to PollInterval,
	// so multiple gateway nodes don't all wake at the same instant.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter,omitempty"`

	// GracefulShutdownTimeout bounds how long the scheduler waits for an
	// in-flight job run to finish when the gateway is shutting down.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout,omitempty"`

	// MaxConsecutiveFailures auto-pauses a job after this many failed runs
	// in a row, until an operator or the next successful run clears it (§4.10 edge cases).
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures,omitempty"`

	Jobs []ScheduledJobConfig `yaml:"jobs,omitempty"`
}

// ScheduledJobConfig describes one job the scheduler runs on an interval.
// When Singleton is true the job acquires a Postgres advisory lock before
// running, so only one gateway node executes it per tick across the cluster.
type ScheduledJobConfig struct {
	Name      string        `yaml:"name" validate:"required"`
	Interval  time.Duration `yaml:"interval" validate:"required"`
	Singleton bool          `yaml:"singleton,omitempty"`
	Timeout   time.Duration `yaml:"timeout,omitempty"`
}

// DefaultSchedulerConfig returns built-in scheduler defaults.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      250 * time.Millisecond,
		GracefulShutdownTimeout: 30 * time.Second,
		MaxConsecutiveFailures:  5,
	}
}
