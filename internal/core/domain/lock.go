package domain

import "time"

// JobLock is the single row of mutual exclusion for a named periodic
// job. At most one non-expired holder may exist per job name.
type JobLock struct {
	JobName    string    `json:"job_name"`
	HolderID   string    `json:"holder_id"` // opaque token, unique per acquire attempt
	AcquiredAt time.Time `json:"acquired_at"`
}

// Expired reports whether the lock is stale and may be stolen.
func (l *JobLock) Expired(ttl time.Duration, now time.Time) bool {
	return now.Sub(l.AcquiredAt) > ttl
}
