package scanerrors

import "time"

// ScanError represents a persisted per-job error or warning entry, kept
// for diagnostics even when the scan overall succeeds.
type ScanError struct {
	ID        int64     `json:"id"`
	TenantID  string    `json:"tenant_id"`
	ScanID    string    `json:"scan_id"`
	JobID     string    `json:"job_id,omitempty"`
	Tool      string    `json:"tool,omitempty"`
	Phase     string    `json:"phase,omitempty"` // launch | poll | fetch | parse | correlate | risk
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
