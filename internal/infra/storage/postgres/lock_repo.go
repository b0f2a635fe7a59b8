package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/sentinel/internal/core/domain"
)

// LockRepo implements storage.LockRepository using PostgreSQL.
//
// Both operations are single statements, so the at-most-one-holder
// invariant holds across any number of replicas without transactions.
type LockRepo struct {
	db *DB
}

// NewLockRepo creates a new PostgreSQL lock repository.
func NewLockRepo(db *DB) *LockRepo {
	return &LockRepo{db: db}
}

// TryAcquire inserts the lock row, or steals it when the existing row
// has outlived ttl. One conditional upsert: two replicas racing on the
// same fresh lock can never both see an affected row.
func (r *LockRepo) TryAcquire(
	ctx context.Context,
	jobName, holderID string,
	ttl time.Duration,
) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO job_locks (job_name, holder_id, acquired_at)
		VALUES ($1, $2, now())
		ON CONFLICT (job_name) DO UPDATE
		SET holder_id = EXCLUDED.holder_id, acquired_at = EXCLUDED.acquired_at
		WHERE job_locks.acquired_at < now() - ($3 * interval '1 second')`,
		jobName, holderID, ttl.Seconds())
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	return n > 0, nil
}

// Release deletes the row only when holderID still owns it, so a
// replica can never release a lock stolen from it in the meantime.
func (r *LockRepo) Release(ctx context.Context, jobName, holderID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM job_locks WHERE job_name = $1 AND holder_id = $2`, jobName, holderID)
	if err != nil {
		return false, fmt.Errorf("failed to release lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to release lock: %w", err)
	}
	return n > 0, nil
}

// Get retrieves the current lock row.
func (r *LockRepo) Get(ctx context.Context, jobName string) (*domain.JobLock, error) {
	var row struct {
		JobName    string    `db:"job_name"`
		HolderID   string    `db:"holder_id"`
		AcquiredAt time.Time `db:"acquired_at"`
	}
	err := r.db.GetContext(ctx, &row, `SELECT * FROM job_locks WHERE job_name = $1`, jobName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lock: %w", err)
	}
	return &domain.JobLock{
		JobName:    row.JobName,
		HolderID:   row.HolderID,
		AcquiredAt: row.AcquiredAt,
	}, nil
}
