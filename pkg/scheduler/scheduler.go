// Package scheduler implements the Scheduler (C10, §4.10): named jobs run on
// their own interval, optionally serialized across the cluster by a
// per-job Postgres advisory lock, with status/runCount/lastRun/lastError
// tracking and auto-pause after too many consecutive failures. The run-loop
// shape (stop channel, WaitGroup, jittered sleep-or-stop) is adapted from
// the teacher's alert-session queue worker pool.
package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/agentkernel/gateway/pkg/config"
)

// Handler runs one invocation of a job. A non-nil error counts as a failed
// run for MaxConsecutiveFailures purposes.
type Handler func(ctx context.Context) error

// JobRunRecorder persists the last-run outcome for a job. Implemented by
// *store.ScheduledJobRunRepo.
type JobRunRecorder interface {
	RecordRun(ctx context.Context, jobName, status, lockedBy string) error
}

// Status is a job's current lifecycle state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
)

// JobStats is a point-in-time snapshot of one job's run history.
type JobStats struct {
	Name                string
	Status              Status
	RunCount            int
	ConsecutiveFailures int
	LastRun             time.Time
	LastError           string
}

type job struct {
	cfg     config.ScheduledJobConfig
	handler Handler
	lockKey int32

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	triggerCh chan struct{}

	mu     sync.Mutex
	status Status
	stats  JobStats
}

// Scheduler owns every registered job's run-loop.
type Scheduler struct {
	cfg      config.SchedulerConfig
	nodeID   string
	db       *sql.DB
	recorder JobRunRecorder
	logger   *slog.Logger

	mu   sync.Mutex
	jobs map[string]*job
}

// New creates a Scheduler. db is used only for per-job advisory locks on
// Singleton jobs and may be nil if no registered job sets Singleton.
func New(cfg config.SchedulerConfig, nodeID string, db *sql.DB, recorder JobRunRecorder, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:      cfg,
		nodeID:   nodeID,
		db:       db,
		recorder: recorder,
		logger:   logger.With("component", "scheduler"),
		jobs:     make(map[string]*job),
	}
}

// Register adds a job definition and starts its run-loop. Registering a
// name twice returns an error — jobs are not replaceable while running.
func (s *Scheduler) Register(jobCfg config.ScheduledJobConfig, handler Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[jobCfg.Name]; exists {
		return fmt.Errorf("scheduler: job %q already registered", jobCfg.Name)
	}
	if jobCfg.Singleton && s.db == nil {
		return fmt.Errorf("scheduler: job %q is singleton but no database was configured", jobCfg.Name)
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte("scheduler-job:" + jobCfg.Name))

	j := &job{
		cfg:       jobCfg,
		handler:   handler,
		lockKey:   int32(h.Sum32()),
		stopCh:    make(chan struct{}),
		triggerCh: make(chan struct{}, 1),
		status:    StatusIdle,
		stats:     JobStats{Name: jobCfg.Name, Status: StatusIdle},
	}
	s.jobs[jobCfg.Name] = j

	j.wg.Add(1)
	go s.run(j)
	return nil
}

// Unregister stops a job's run-loop and removes it.
func (s *Scheduler) Unregister(name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	if ok {
		delete(s.jobs, name)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("scheduler: job %q not registered", name)
	}
	j.stopOnce.Do(func() { close(j.stopCh) })
	j.wg.Wait()
	return nil
}

// Trigger requests an immediate out-of-cycle run of a job, without waiting
// for its next tick. A pending trigger is coalesced if one is already queued.
func (s *Scheduler) Trigger(name string) error {
	j, err := s.get(name)
	if err != nil {
		return err
	}
	select {
	case j.triggerCh <- struct{}{}:
	default:
	}
	return nil
}

// Pause stops a job from running until Resume is called, without removing it.
func (s *Scheduler) Pause(name string) error {
	j, err := s.get(name)
	if err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = StatusPaused
	j.stats.Status = StatusPaused
	return nil
}

// Resume clears a paused or auto-paused job so it resumes ticking.
func (s *Scheduler) Resume(name string) error {
	j, err := s.get(name)
	if err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = StatusIdle
	j.stats.Status = StatusIdle
	j.stats.ConsecutiveFailures = 0
	return nil
}

// Stats returns a snapshot of one job's run history.
func (s *Scheduler) Stats(name string) (JobStats, error) {
	j, err := s.get(name)
	if err != nil {
		return JobStats{}, err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stats, nil
}

// All returns a snapshot of every registered job's run history.
func (s *Scheduler) All() []JobStats {
	s.mu.Lock()
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	out := make([]JobStats, 0, len(jobs))
	for _, j := range jobs {
		j.mu.Lock()
		out = append(out, j.stats)
		j.mu.Unlock()
	}
	return out
}

// Shutdown stops every job's run-loop, waiting up to
// SchedulerConfig.GracefulShutdownTimeout for in-flight runs to finish.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	for _, j := range jobs {
		j.stopOnce.Do(func() { close(j.stopCh) })
	}

	done := make(chan struct{})
	go func() {
		for _, j := range jobs {
			j.wg.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.cfg.GracefulShutdownTimeout):
		s.logger.Warn("scheduler shutdown timed out waiting for in-flight jobs")
	}
}

func (s *Scheduler) get(name string) (*job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if !ok {
		return nil, fmt.Errorf("scheduler: job %q not registered", name)
	}
	return j, nil
}

// run is one job's loop: sleep with jitter, or wake early on Trigger/stop.
func (s *Scheduler) run(j *job) {
	defer j.wg.Done()
	log := s.logger.With("job", j.cfg.Name)
	log.Info("job registered")

	for {
		wait := s.jitteredInterval(j.cfg.Interval)
		select {
		case <-j.stopCh:
			log.Info("job stopped")
			return
		case <-time.After(wait):
		case <-j.triggerCh:
		}

		j.mu.Lock()
		paused := j.status == StatusPaused
		j.mu.Unlock()
		if paused {
			continue
		}

		s.runOnce(j)
	}
}

func (s *Scheduler) jitteredInterval(base time.Duration) time.Duration {
	jitter := s.cfg.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	return base + time.Duration(rand.Int64N(int64(jitter)))
}

func (s *Scheduler) runOnce(j *job) {
	log := s.logger.With("job", j.cfg.Name)

	if j.cfg.Singleton {
		acquired, release, err := s.tryLock(j.lockKey)
		if err != nil {
			log.Error("advisory lock attempt failed", "error", err)
			return
		}
		if !acquired {
			log.Debug("another node holds this job's lock, skipping run")
			return
		}
		defer release()
	}

	j.mu.Lock()
	j.status = StatusRunning
	j.stats.Status = StatusRunning
	j.mu.Unlock()

	ctx := context.Background()
	if j.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := j.handler(ctx)
	status := "success"

	j.mu.Lock()
	j.stats.RunCount++
	j.stats.LastRun = start
	if err != nil {
		status = "error"
		j.stats.LastError = err.Error()
		j.stats.ConsecutiveFailures++
		if s.cfg.MaxConsecutiveFailures > 0 && j.stats.ConsecutiveFailures >= s.cfg.MaxConsecutiveFailures {
			j.status = StatusPaused
			j.stats.Status = StatusPaused
			log.Error("job auto-paused after repeated failures",
				"consecutiveFailures", j.stats.ConsecutiveFailures, "error", err)
		} else {
			j.status = StatusIdle
			j.stats.Status = StatusIdle
		}
	} else {
		j.stats.LastError = ""
		j.stats.ConsecutiveFailures = 0
		j.status = StatusIdle
		j.stats.Status = StatusIdle
	}
	j.mu.Unlock()

	if err != nil {
		log.Error("job run failed", "error", err, "duration", time.Since(start))
	} else {
		log.Debug("job run succeeded", "duration", time.Since(start))
	}

	if s.recorder != nil {
		if recErr := s.recorder.RecordRun(ctx, j.cfg.Name, status, s.nodeID); recErr != nil {
			log.Error("failed to record job run", "error", recErr)
		}
	}
}

// tryLock acquires a per-job advisory lock on a dedicated connection and
// returns a release func that unlocks and returns the connection to the pool.
func (s *Scheduler) tryLock(lockKey int32) (bool, func(), error) {
	conn, err := s.db.Conn(context.Background())
	if err != nil {
		return false, nil, fmt.Errorf("scheduler: failed to reserve lock connection: %w", err)
	}

	var acquired bool
	row := conn.QueryRowContext(context.Background(), `SELECT pg_try_advisory_lock($1, $2)`, lockKey, int32(2))
	if err := row.Scan(&acquired); err != nil {
		_ = conn.Close()
		return false, nil, err
	}
	if !acquired {
		_ = conn.Close()
		return false, nil, nil
	}

	release := func() {
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1, $2)`, lockKey, int32(2))
		_ = conn.Close()
	}
	return true, release, nil
}
