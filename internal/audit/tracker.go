package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/sentinel/internal/core/domain"
	"github.com/vietddude/sentinel/internal/infra/storage"
)

// ErrAuditInFlight is returned when a merchant already has a
// pending/processing audit. Two concurrent audits for one merchant are
// never allowed.
var ErrAuditInFlight = errors.New("audit already in flight for merchant")

// MerchantGuard closes the check-then-create race on StartAudit across
// replicas. Implementations are best-effort: when the guard is
// unavailable the database check still holds the invariant for
// scheduled runs, which run under the global job lock.
type MerchantGuard interface {
	// Lock takes a short per-merchant lease; release must always be called.
	Lock(ctx context.Context, merchantID string) (release func(), err error)
}

// Tracker owns the scan-job state machine.
type Tracker struct {
	jobs  storage.ScanJobRepository
	guard MerchantGuard // may be nil
	log   *slog.Logger
}

// NewTracker creates a scan job tracker.
func NewTracker(jobs storage.ScanJobRepository, guard MerchantGuard) *Tracker {
	return &Tracker{jobs: jobs, guard: guard, log: slog.Default()}
}

// StartAudit accepts an audit request, creating a pending job the
// worker picks up asynchronously. The caller polls GetScanJob instead
// of waiting on the multi-minute scan.
func (t *Tracker) StartAudit(ctx context.Context, merchantID string) (*domain.ScanJob, error) {
	if merchantID == "" {
		return nil, errors.New("merchant id required")
	}

	if t.guard != nil {
		release, err := t.guard.Lock(ctx, merchantID)
		if err == nil {
			defer release()
		} else {
			t.log.Warn("merchant guard unavailable, proceeding on db check", "merchant", merchantID, "error", err)
		}
	}

	active, err := t.jobs.GetActiveByMerchant(ctx, merchantID)
	if err != nil {
		return nil, fmt.Errorf("check active audit: %w", err)
	}
	if active != nil {
		return nil, ErrAuditInFlight
	}

	job := &domain.ScanJob{
		ID:         uuid.NewString(),
		MerchantID: merchantID,
		Status:     domain.ScanJobPending,
		CreatedAt:  time.Now(),
	}
	if err := t.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create scan job: %w", err)
	}

	t.log.Info("audit accepted", "merchant", merchantID, "job", job.ID)
	return job, nil
}

// GetScanJob returns the job for polling clients; nil when unknown.
func (t *Tracker) GetScanJob(ctx context.Context, jobID string) (*domain.ScanJob, error) {
	return t.jobs.Get(ctx, jobID)
}

// Claim transitions a pending job to processing, exactly once.
func (t *Tracker) Claim(ctx context.Context, jobID string) (bool, error) {
	return t.jobs.Claim(ctx, jobID)
}
