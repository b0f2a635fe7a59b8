package audit

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/vietddude/sentinel/internal/infra/storage/memory"
)

type fakeGuard struct {
	mu    sync.Mutex
	locks int
	err   error
}

func (g *fakeGuard) Lock(ctx context.Context, merchantID string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	g.locks++
	return func() {}, nil
}

func TestTracker_StartAudit(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()
	guard := &fakeGuard{}
	tracker := NewTracker(memory.NewScanJobRepo(store), guard)

	job, err := tracker.StartAudit(ctx, "m1")
	if err != nil {
		t.Fatalf("StartAudit failed: %v", err)
	}
	if job.ID == "" || job.MerchantID != "m1" {
		t.Fatalf("unexpected job: %+v", job)
	}
	if guard.locks != 1 {
		t.Errorf("expected one guard lock, got %d", guard.locks)
	}

	// Same merchant with an audit in flight is rejected.
	if _, err := tracker.StartAudit(ctx, "m1"); !errors.Is(err, ErrAuditInFlight) {
		t.Fatalf("expected ErrAuditInFlight, got %v", err)
	}

	// A different merchant is independent.
	if _, err := tracker.StartAudit(ctx, "m2"); err != nil {
		t.Fatalf("second merchant rejected: %v", err)
	}

	// Terminal state frees the merchant for a new audit.
	jobs := memory.NewScanJobRepo(store)
	if err := jobs.Fail(ctx, job.ID, "source down"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if _, err := tracker.StartAudit(ctx, "m1"); err != nil {
		t.Fatalf("audit after terminal job rejected: %v", err)
	}
}

func TestTracker_StartAudit_GuardUnavailable(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()
	guard := &fakeGuard{err: errors.New("redis down")}
	tracker := NewTracker(memory.NewScanJobRepo(store), guard)

	// The guard is best-effort: its failure must not block audits.
	if _, err := tracker.StartAudit(ctx, "m1"); err != nil {
		t.Fatalf("StartAudit should proceed without guard: %v", err)
	}
	if _, err := tracker.StartAudit(ctx, "m1"); !errors.Is(err, ErrAuditInFlight) {
		t.Fatalf("db check should still reject duplicates, got %v", err)
	}
}

func TestTracker_StartAudit_EmptyMerchant(t *testing.T) {
	tracker := NewTracker(memory.NewScanJobRepo(memory.NewMemoryStorage()), nil)
	if _, err := tracker.StartAudit(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty merchant id")
	}
}

func TestTracker_ClaimOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()
	tracker := NewTracker(memory.NewScanJobRepo(store), nil)

	job, err := tracker.StartAudit(ctx, "m1")
	if err != nil {
		t.Fatalf("StartAudit failed: %v", err)
	}

	ok, err := tracker.Claim(ctx, job.ID)
	if err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	ok, err = tracker.Claim(ctx, job.ID)
	if err != nil {
		t.Fatalf("second claim errored: %v", err)
	}
	if ok {
		t.Error("job claimed twice")
	}
}
