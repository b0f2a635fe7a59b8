package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/sentinel/internal/core/domain"
	"github.com/vietddude/sentinel/internal/infra/storage/memory"
	"github.com/vietddude/sentinel/internal/lock"
)

type countingJob struct {
	name string
	mu   sync.Mutex
	runs int
	err  error
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run(ctx context.Context) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.runs++
	return "ran", j.err
}

func (j *countingJob) count() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.runs
}

func newTestScheduler() (*Scheduler, *memory.MemoryStorage, *memory.SystemLogRepo) {
	store := memory.NewMemoryStorage()
	locks := lock.NewManager(memory.NewLockRepo(store), time.Minute)
	syslog := memory.NewSystemLogRepo(store)
	return New(locks, syslog), store, syslog
}

func TestScheduler_RunsAndLogs(t *testing.T) {
	s, _, syslog := newTestScheduler()
	job := &countingJob{name: "tick_job"}
	s.Register(job, 10*time.Millisecond)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	s.Stop()

	if job.count() == 0 {
		t.Fatal("job never ran")
	}
	entries := syslog.Entries()
	if len(entries) == 0 {
		t.Fatal("no system log entries written")
	}
	for _, e := range entries {
		if e.JobName != "tick_job" || e.Outcome != domain.JobOutcomeSuccess || e.Summary != "ran" {
			t.Errorf("unexpected entry: %+v", e)
		}
	}
}

func TestScheduler_JobErrorLogged(t *testing.T) {
	s, _, syslog := newTestScheduler()
	job := &countingJob{name: "flaky_job", err: errors.New("boom")}
	s.Register(job, 10*time.Millisecond)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	s.Stop()

	entries := syslog.Entries()
	if len(entries) == 0 {
		t.Fatal("no system log entries written")
	}
	for _, e := range entries {
		if e.Outcome != domain.JobOutcomeError || e.Error != "boom" {
			t.Errorf("expected error entry, got %+v", e)
		}
	}
}

func TestScheduler_SkipsContendedLock(t *testing.T) {
	s, store, syslog := newTestScheduler()
	job := &countingJob{name: "guarded_job"}
	s.Register(job, 10*time.Millisecond)

	// Another replica holds the lock for the whole test.
	locks := memory.NewLockRepo(store)
	ok, err := locks.TryAcquire(context.Background(), "guarded_job", "other-replica", time.Minute)
	if err != nil || !ok {
		t.Fatalf("setup lock: ok=%v err=%v", ok, err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	s.Stop()

	if job.count() != 0 {
		t.Errorf("job ran %d times despite foreign lock", job.count())
	}
	if len(syslog.Entries()) != 0 {
		t.Errorf("skipped ticks must not log: %+v", syslog.Entries())
	}

	// The foreign holder's lock survives untouched.
	held, err := locks.Get(context.Background(), "guarded_job")
	if err != nil || held == nil || held.HolderID != "other-replica" {
		t.Errorf("foreign lock disturbed: %+v err=%v", held, err)
	}
}

func TestScheduler_ReleasesLockAfterTick(t *testing.T) {
	s, store, _ := newTestScheduler()
	job := &countingJob{name: "clean_job"}
	s.Register(job, 10*time.Millisecond)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	held, err := memory.NewLockRepo(store).Get(context.Background(), "clean_job")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if held != nil {
		t.Errorf("lock still held after ticks finished: %+v", held)
	}
}

func TestScheduler_StartTwice(t *testing.T) {
	s, _, _ := newTestScheduler()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("second Start should fail")
	}
}
