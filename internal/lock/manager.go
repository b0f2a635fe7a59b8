// Package lock provides named, TTL-bound mutual exclusion for
// periodic jobs across scheduler replicas.
//
// The shared store (storage.LockRepository) does the atomic work: an
// acquire is one conditional upsert that either inserts the row or
// steals it once its age exceeds the TTL, and a release only deletes
// the row when the holder still owns it. Correctness never depends on
// a single-process assumption.
package lock

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/sentinel/internal/infra/storage"
)

// DefaultTTL exceeds the worst-case single scan duration while
// bounding recovery time after a crashed holder.
const DefaultTTL = 30 * time.Minute

// Manager hands out leases on named jobs.
type Manager struct {
	repo storage.LockRepository
	ttl  time.Duration
	log  *slog.Logger
}

// NewManager creates a lock manager with the given TTL (DefaultTTL
// when zero).
func NewManager(repo storage.LockRepository, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{repo: repo, ttl: ttl, log: slog.Default()}
}

// NewHolderID mints an opaque holder token, unique per attempt.
func NewHolderID() string {
	return uuid.NewString()
}

// Acquire attempts to take the lease for jobName. false means another
// live holder owns it; callers skip their tick, it is not an error.
func (m *Manager) Acquire(ctx context.Context, jobName, holderID string) (bool, error) {
	ok, err := m.repo.TryAcquire(ctx, jobName, holderID, m.ttl)
	if err != nil {
		return false, err
	}
	if !ok {
		m.log.Debug("lock held elsewhere", "job", jobName)
	}
	return ok, nil
}

// Release gives the lease back. false means the lock was not ours
// anymore (expired and stolen); the newer holder's row is untouched.
func (m *Manager) Release(ctx context.Context, jobName, holderID string) (bool, error) {
	ok, err := m.repo.Release(ctx, jobName, holderID)
	if err != nil {
		return false, err
	}
	if !ok {
		m.log.Warn("lock was no longer held at release", "job", jobName)
	}
	return ok, nil
}

// TTL returns the configured lease duration.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}
