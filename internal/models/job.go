package models

import "time"

// Job is one ledger row per job cycle. A redelivered message produces a
// new row with a higher Attempt.
type Job struct {
	ID         string     `json:"id"`
	VideoID    string     `json:"video_id"`
	DeliveryID string     `json:"delivery_id"`
	Attempt    int        `json:"attempt"`
	State      string     `json:"state"`
	Error      *string    `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Rendition is the recorded outcome of one rung of a job.
type Rendition struct {
	JobID      string `json:"job_id"`
	Rung       string `json:"rung"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}
