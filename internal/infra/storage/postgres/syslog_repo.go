package postgres

import (
	"context"
	"fmt"

	"github.com/vietddude/sentinel/internal/core/domain"
)

// SystemLogRepo implements storage.SystemLogRepository using PostgreSQL.
type SystemLogRepo struct {
	db *DB
}

// NewSystemLogRepo creates a new PostgreSQL system log repository.
func NewSystemLogRepo(db *DB) *SystemLogRepo {
	return &SystemLogRepo{db: db}
}

// Append writes one execution record. The table is append-only from
// the core's perspective.
func (r *SystemLogRepo) Append(ctx context.Context, entry *domain.SystemLogEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO system_log (id, job_name, outcome, summary, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.JobName, string(entry.Outcome), entry.Summary, entry.Error, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append system log: %w", err)
	}
	return nil
}
