package store

import (
	"context"
	"database/sql"
	"fmt"
)

// ScheduledJobRun is the last-known-run bookkeeping row for one scheduler
// job (§4.10 C10 Scheduler), used to report lastRun/lastStatus across a
// gateway restart and to show which node most recently ran the job.
type ScheduledJobRun struct {
	JobName   string
	LastRunAt sql.NullTime
	LastStatus string
	LockedBy  string
}

// ScheduledJobRunRepo persists ScheduledJobRun rows in the scheduled_job_runs table.
type ScheduledJobRunRepo struct {
	db *sql.DB
}

// NewScheduledJobRunRepo creates a repository backed by db.
func NewScheduledJobRunRepo(db *sql.DB) *ScheduledJobRunRepo {
	return &ScheduledJobRunRepo{db: db}
}

// RecordRun upserts a job's last-run outcome after it executes, independent
// of whether the run was gated by an advisory lock.
func (r *ScheduledJobRunRepo) RecordRun(ctx context.Context, jobName, status, lockedBy string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO scheduled_job_runs (job_name, last_run_at, last_status, locked_by)
		VALUES ($1, now(), $2, $3)
		ON CONFLICT (job_name) DO UPDATE SET
			last_run_at = now(), last_status = $2, locked_by = $3`,
		jobName, status, lockedBy)
	if err != nil {
		return fmt.Errorf("failed to record scheduled job run %s: %w", jobName, err)
	}
	return nil
}

// Get returns the last recorded run for a job, or apierrors.ErrNotFound if
// the job has never run.
func (r *ScheduledJobRunRepo) Get(ctx context.Context, jobName string) (*ScheduledJobRun, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		SELECT job_name, last_run_at, COALESCE(last_status, ''), COALESCE(locked_by, '')
		FROM scheduled_job_runs WHERE job_name = $1`, jobName)

	var run ScheduledJobRun
	if err := row.Scan(&run.JobName, &run.LastRunAt, &run.LastStatus, &run.LockedBy); err != nil {
		return nil, wrapNotFound(err, "failed to get scheduled job run")
	}
	return &run, nil
}

// List returns every job's last recorded run, most recently run first.
func (r *ScheduledJobRunRepo) List(ctx context.Context) ([]*ScheduledJobRun, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT job_name, last_run_at, COALESCE(last_status, ''), COALESCE(locked_by, '')
		FROM scheduled_job_runs ORDER BY last_run_at DESC NULLS LAST`)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled job runs: %w", err)
	}
	defer rows.Close()

	var out []*ScheduledJobRun
	for rows.Next() {
		var run ScheduledJobRun
		if err := rows.Scan(&run.JobName, &run.LastRunAt, &run.LastStatus, &run.LockedBy); err != nil {
			return nil, fmt.Errorf("failed to scan scheduled job run row: %w", err)
		}
		out = append(out, &run)
	}
	return out, rows.Err()
}
