package models

import "time"

// RunStatus is the lifecycle state of a sync pass
type RunStatus string

const (
	RunRunning   RunStatus = "RUNNING"
	RunSucceeded RunStatus = "SUCCEEDED"
	RunFailed    RunStatus = "FAILED"
)

// SyncRun is a ledger entry describing one sync pass. It is informational:
// the resume point is always recomputed from the emails table.
type SyncRun struct {
	ID              string     `json:"id"`
	Provider        string     `json:"provider"`
	User            string     `json:"user"`
	Status          RunStatus  `json:"status"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	Listed          int        `json:"listed"`
	Committed       int        `json:"committed"`
	Batches         int        `json:"batches"`
	WatermarkBefore *int64     `json:"watermark_before,omitempty"`
	WatermarkAfter  *int64     `json:"watermark_after,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
}
