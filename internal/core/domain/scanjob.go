package domain

import "time"

// ScanJob tracks one in-flight audit request so callers can poll
// instead of holding a request open for a multi-minute scan.
type ScanJob struct {
	ID          string        `json:"id"`
	MerchantID  string        `json:"merchant_id"`
	Status      ScanJobStatus `json:"status"`
	Progress    int           `json:"progress"` // 0..100, 100 only at completed
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	CompletedAt *time.Time    `json:"completed_at"`
}

type ScanJobStatus string

const (
	ScanJobPending    ScanJobStatus = "pending"
	ScanJobProcessing ScanJobStatus = "processing"
	ScanJobCompleted  ScanJobStatus = "completed"
	ScanJobFailed     ScanJobStatus = "failed"
)

// Terminal reports whether the job can no longer change state.
func (s ScanJobStatus) Terminal() bool {
	return s == ScanJobCompleted || s == ScanJobFailed
}

// InFlight reports whether a new audit for the same merchant must be rejected.
func (s ScanJobStatus) InFlight() bool {
	return s == ScanJobPending || s == ScanJobProcessing
}
