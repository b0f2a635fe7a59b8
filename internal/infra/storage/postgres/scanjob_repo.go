package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/sentinel/internal/core/domain"
)

// ScanJobRepo implements storage.ScanJobRepository using PostgreSQL.
type ScanJobRepo struct {
	db *DB
}

// NewScanJobRepo creates a new PostgreSQL scan job repository.
func NewScanJobRepo(db *DB) *ScanJobRepo {
	return &ScanJobRepo{db: db}
}

type scanJobRow struct {
	ID          string       `db:"id"`
	MerchantID  string       `db:"merchant_id"`
	Status      string       `db:"status"`
	Progress    int          `db:"progress"`
	Error       string       `db:"error"`
	CreatedAt   time.Time    `db:"created_at"`
	CompletedAt sql.NullTime `db:"completed_at"`
}

func (r scanJobRow) toDomain() *domain.ScanJob {
	job := &domain.ScanJob{
		ID:         r.ID,
		MerchantID: r.MerchantID,
		Status:     domain.ScanJobStatus(r.Status),
		Progress:   r.Progress,
		Error:      r.Error,
		CreatedAt:  r.CreatedAt,
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		job.CompletedAt = &t
	}
	return job
}

// Create persists a new pending job.
func (r *ScanJobRepo) Create(ctx context.Context, job *domain.ScanJob) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO scan_jobs (id, merchant_id, status, progress, error, created_at)
		VALUES ($1, $2, $3, $4, '', $5)`,
		job.ID, job.MerchantID, string(job.Status), job.Progress, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create scan job: %w", err)
	}
	return nil
}

// Get retrieves a job by id.
func (r *ScanJobRepo) Get(ctx context.Context, id string) (*domain.ScanJob, error) {
	var row scanJobRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM scan_jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scan job: %w", err)
	}
	return row.toDomain(), nil
}

// GetActiveByMerchant returns the pending/processing job for a merchant.
func (r *ScanJobRepo) GetActiveByMerchant(ctx context.Context, merchantID string) (*domain.ScanJob, error) {
	var row scanJobRow
	err := r.db.GetContext(ctx, &row, `
		SELECT * FROM scan_jobs
		WHERE merchant_id = $1 AND status IN ('pending', 'processing')
		ORDER BY created_at DESC
		LIMIT 1`, merchantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active scan job: %w", err)
	}
	return row.toDomain(), nil
}

// Claim transitions pending→processing. The conditional update makes
// the claim exactly-once under concurrent workers.
func (r *ScanJobRepo) Claim(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE scan_jobs SET status = 'processing'
		WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return false, fmt.Errorf("failed to claim scan job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim scan job: %w", err)
	}
	return n > 0, nil
}

// UpdateProgress sets coarse progress on a processing job. GREATEST
// keeps the reported value monotonic.
func (r *ScanJobRepo) UpdateProgress(ctx context.Context, id string, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 99 {
		progress = 99 // 100 is reserved for Complete
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE scan_jobs SET progress = GREATEST(progress, $2)
		WHERE id = $1 AND status = 'processing'`, id, progress)
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	return nil
}

// Complete marks the job completed with progress 100.
func (r *ScanJobRepo) Complete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE scan_jobs SET status = 'completed', progress = 100, completed_at = $2
		WHERE id = $1 AND status = 'processing'`, id, time.Now())
	if err != nil {
		return fmt.Errorf("failed to complete scan job: %w", err)
	}
	return nil
}

// Fail marks the job failed with a human-readable error.
func (r *ScanJobRepo) Fail(ctx context.Context, id string, errMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE scan_jobs SET status = 'failed', error = $2, completed_at = $3
		WHERE id = $1 AND status IN ('pending', 'processing')`, id, errMsg, time.Now())
	if err != nil {
		return fmt.Errorf("failed to fail scan job: %w", err)
	}
	return nil
}
