package domain

import "time"

// SystemLogEntry is one append-only record of a job execution.
type SystemLogEntry struct {
	ID        string     `json:"id"`
	JobName   string     `json:"job_name"`
	Outcome   JobOutcome `json:"outcome"`
	Summary   string     `json:"summary"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

type JobOutcome string

const (
	JobOutcomeSuccess JobOutcome = "success"
	JobOutcomeError   JobOutcome = "error"
)
