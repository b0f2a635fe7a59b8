package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/sentinel/internal/core/domain"
)

var (
	// ErrScanJobNotFound is returned when a scan job doesn't exist
	ErrScanJobNotFound = errors.New("scan job not found")
)

// StatsBucket selects the rollup granularity for recovery aggregates.
type StatsBucket string

const (
	BucketDaily   StatsBucket = "day"
	BucketMonthly StatsBucket = "month"
)

// RecoveryStat is one rollup row, grouped on ghost discovery time.
type RecoveryStat struct {
	Bucket         time.Time `db:"bucket"          json:"bucket"`
	LeakedMinor    int64     `db:"leaked_minor"    json:"leaked_minor"`
	RecoveredMinor int64     `db:"recovered_minor" json:"recovered_minor"`
	Ghosts         int       `db:"ghosts"          json:"ghosts"`
	Recovered      int       `db:"recovered"       json:"recovered"`
}

// GhostRepository handles ghost target storage operations
type GhostRepository interface {
	// Upsert inserts or updates a ghost keyed by its source invoice id.
	// Re-scans of the same invoice never create a second row, and never
	// touch dispatch/attribution bookkeeping fields.
	Upsert(ctx context.Context, g *domain.GhostTarget) error

	// GetByID retrieves a ghost by id; nil when missing
	GetByID(ctx context.Context, id string) (*domain.GhostTarget, error)

	// GetByInvoiceID retrieves a ghost by source invoice id; nil when missing
	GetByInvoiceID(ctx context.Context, invoiceID string) (*domain.GhostTarget, error)

	// GetByMerchant retrieves all ghosts for a merchant
	GetByMerchant(ctx context.Context, merchantID string) ([]*domain.GhostTarget, error)

	// ListDispatchCandidates returns actionable ghosts discovered before
	// foundBefore with fewer than maxEmails attempts
	ListDispatchCandidates(ctx context.Context, foundBefore time.Time, maxEmails int) ([]*domain.GhostTarget, error)

	// RecordEmail increments the attempt counter and stamps the send
	// time, returning the new counter value
	RecordEmail(ctx context.Context, id string, at time.Time) (int, error)

	// SetStatus updates only the status field
	SetStatus(ctx context.Context, id string, status domain.GhostStatus) error

	// PromoteImpending flips a subscription's impending ghosts to
	// pending once a real failure lands for it, returning how many rows
	// changed
	PromoteImpending(ctx context.Context, merchantID, subscriptionID string) (int, error)

	// RecordClick extends the attribution window and click bookkeeping;
	// found is false for unknown ids
	RecordClick(ctx context.Context, id string, expiry, at time.Time) (found bool, err error)

	// MarkRecovered sets recovery fields and terminal status; found is
	// false for unknown ids
	MarkRecovered(ctx context.Context, id string, rtype domain.RecoveryType, at time.Time) (found bool, err error)

	// RecoveryStats aggregates leaked vs recovered amounts grouped on
	// discovery time. Purge-eligible rows are included: the rollup is a
	// discovery-time fact and must not drift as records age out.
	RecoveryStats(ctx context.Context, merchantID string, bucket StatsBucket) ([]RecoveryStat, error)
}

// ScanJobRepository handles scan job storage operations
type ScanJobRepository interface {
	// Create persists a new pending job
	Create(ctx context.Context, job *domain.ScanJob) error

	// Get retrieves a job by id; nil when missing
	Get(ctx context.Context, id string) (*domain.ScanJob, error)

	// GetActiveByMerchant returns the pending/processing job for a
	// merchant, nil when none
	GetActiveByMerchant(ctx context.Context, merchantID string) (*domain.ScanJob, error)

	// Claim transitions pending→processing; false if the job was
	// already claimed or terminal
	Claim(ctx context.Context, id string) (bool, error)

	// UpdateProgress sets coarse progress on a processing job
	UpdateProgress(ctx context.Context, id string, progress int) error

	// Complete marks the job completed with progress 100
	Complete(ctx context.Context, id string) error

	// Fail marks the job failed with a human-readable error
	Fail(ctx context.Context, id string, errMsg string) error
}

// LockRepository is the shared-store backing of the distributed lock
// manager. Both operations must be atomic single-row writes.
type LockRepository interface {
	// TryAcquire inserts the lock row, or replaces it when the existing
	// row is older than ttl (stale steal). Returns whether this holder
	// now owns the lock.
	TryAcquire(ctx context.Context, jobName, holderID string, ttl time.Duration) (bool, error)

	// Release deletes the row only when holderID matches the stored
	// holder. Returns whether a row was released.
	Release(ctx context.Context, jobName, holderID string) (bool, error)

	// Get retrieves the current lock row; nil when absent
	Get(ctx context.Context, jobName string) (*domain.JobLock, error)
}

// SystemLogRepository is the append-only job execution trail
type SystemLogRepository interface {
	Append(ctx context.Context, entry *domain.SystemLogEntry) error
}

// CredentialRepository stores encrypted billing-source credentials
type CredentialRepository interface {
	// Get retrieves a merchant credential; nil when missing
	Get(ctx context.Context, merchantID string) (*domain.MerchantCredential, error)

	// Save inserts or replaces a merchant credential
	Save(ctx context.Context, cred *domain.MerchantCredential) error

	// ListMerchants returns all merchant ids with stored credentials
	ListMerchants(ctx context.Context) ([]string, error)
}
