// Package scheduler runs the periodic jobs (deep harvest, pulse
// engine) on fixed intervals, each tick guarded by the shared job lock
// so only one replica executes it.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/sentinel/internal/core/domain"
	"github.com/vietddude/sentinel/internal/infra/storage"
	"github.com/vietddude/sentinel/internal/lock"
	"github.com/vietddude/sentinel/internal/metrics"
)

// Job is one schedulable unit of work. Run returns a one-line summary
// for the system log.
type Job interface {
	Name() string
	Run(ctx context.Context) (string, error)
}

// JobFunc adapts a plain function to the Job interface.
type JobFunc struct {
	JobName string
	Fn      func(ctx context.Context) (string, error)
}

func (j JobFunc) Name() string                            { return j.JobName }
func (j JobFunc) Run(ctx context.Context) (string, error) { return j.Fn(ctx) }

// Entry pairs a job with its tick interval.
type Entry struct {
	Job      Job
	Interval time.Duration
}

// Scheduler drives registered jobs until stopped.
type Scheduler struct {
	locks   *lock.Manager
	syslog  storage.SystemLogRepository
	entries []Entry
	log     *slog.Logger

	running atomic.Bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// New creates a scheduler over the given lock manager and system log.
func New(locks *lock.Manager, syslog storage.SystemLogRepository) *Scheduler {
	return &Scheduler{
		locks:  locks,
		syslog: syslog,
		log:    slog.Default(),
		stop:   make(chan struct{}),
	}
}

// Register adds a job. Must be called before Start.
func (s *Scheduler) Register(job Job, interval time.Duration) {
	s.entries = append(s.entries, Entry{Job: job, Interval: interval})
}

// Start launches one ticker loop per registered job and returns.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("scheduler already running")
	}

	for _, e := range s.entries {
		s.wg.Add(1)
		go s.runLoop(ctx, e)
	}
	s.log.Info("scheduler started", "jobs", len(s.entries))
	return nil
}

// Stop halts all loops and waits for in-flight ticks to finish.
func (s *Scheduler) Stop() {
	if s.running.CompareAndSwap(true, false) {
		close(s.stop)
	}
	s.wg.Wait()
}

func (s *Scheduler) runLoop(ctx context.Context, e Entry) {
	defer s.wg.Done()

	ticker := time.NewTicker(e.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.tick(ctx, e.Job)
		}
	}
}

// tick runs one guarded execution: acquire the job lock, run, log the
// outcome, release. A lost acquisition means another replica has this
// tick and is not an error.
func (s *Scheduler) tick(ctx context.Context, job Job) {
	holderID := lock.NewHolderID()

	ok, err := s.locks.Acquire(ctx, job.Name(), holderID)
	if err != nil {
		metrics.LockAcquisitions.WithLabelValues(job.Name(), "error").Inc()
		s.log.Error("lock acquire failed", "job", job.Name(), "error", err)
		return
	}
	if !ok {
		metrics.LockAcquisitions.WithLabelValues(job.Name(), "contended").Inc()
		s.log.Debug("tick skipped, lock held elsewhere", "job", job.Name())
		return
	}
	metrics.LockAcquisitions.WithLabelValues(job.Name(), "acquired").Inc()
	defer func() {
		if _, err := s.locks.Release(ctx, job.Name(), holderID); err != nil {
			s.log.Warn("lock release failed", "job", job.Name(), "error", err)
		}
	}()

	start := time.Now()
	summary, runErr := job.Run(ctx)

	entry := &domain.SystemLogEntry{
		ID:        uuid.NewString(),
		JobName:   job.Name(),
		Summary:   summary,
		Outcome:   domain.JobOutcomeSuccess,
		CreatedAt: time.Now(),
	}
	if runErr != nil {
		entry.Outcome = domain.JobOutcomeError
		entry.Error = runErr.Error()
		s.log.Error("job failed", "job", job.Name(), "elapsed", time.Since(start), "error", runErr)
	} else {
		s.log.Info("job finished", "job", job.Name(), "elapsed", time.Since(start), "summary", summary)
	}
	if err := s.syslog.Append(ctx, entry); err != nil {
		s.log.Warn("failed to append system log", "job", job.Name(), "error", err)
	}
}
