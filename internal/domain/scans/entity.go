package scans

import (
	"time"
)

// ID types for Scan and ToolJob
type ScanID string
type JobID string

// Tool enum
type Tool string

const (
	ToolNmap   Tool = "nmap"
	ToolGVM    Tool = "gvm"
	ToolZAP    Tool = "zap"
	ToolNuclei Tool = "nuclei"
)

// AllTools lists every tool the orchestrator can dispatch.
var AllTools = []Tool{ToolNmap, ToolGVM, ToolZAP, ToolNuclei}

func ValidTool(t Tool) bool {
	for _, v := range AllTools {
		if v == t {
			return true
		}
	}
	return false
}

// Status enum for Scan
type Status string

const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartial, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// JobStatus enum for ToolJob
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

func (s JobStatus) Terminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobCancelled:
		return true
	}
	return false
}

// Aggregate Root: Scan
type Scan struct {
	ID              ScanID     `json:"id"`
	TenantID        string     `json:"tenant_id"`
	Targets         []string   `json:"targets"`
	Tools           []Tool     `json:"tools"`
	Status          Status     `json:"status"`
	CancelRequested bool       `json:"cancel_requested"`
	RequestedAt     time.Time  `json:"requested_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	Source          string     `json:"source,omitempty"`
	Metadata        any        `json:"metadata,omitempty"`
}

// ToolJob is one tool's run within a Scan. Owned exclusively by its Scan.
// Handle is the opaque job identifier assigned by the tool. Meta carries
// tool-specific identifiers that must survive a restart (gvm_target_id,
// gvm_task_id, gvm_report_id).
type ToolJob struct {
	ID          JobID             `json:"id"`
	ScanID      ScanID            `json:"scan_id"`
	TenantID    string            `json:"tenant_id"`
	Tool        Tool              `json:"tool"`
	Handle      string            `json:"handle,omitempty"`
	Meta        map[string]string `json:"meta,omitempty"`
	Status      JobStatus         `json:"status"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	FinishedAt  *time.Time        `json:"finished_at,omitempty"`
	LastError   string            `json:"last_error,omitempty"`
	Warning     string            `json:"warning,omitempty"`
	ArtifactURL string            `json:"artifact_url,omitempty"`
}

func (j *ToolJob) SetMeta(key, value string) {
	if j.Meta == nil {
		j.Meta = make(map[string]string)
	}
	j.Meta[key] = value
}

// Aggregate decides the final Scan status from a set of ToolJobs.
// Returns ("", false) while any job is still non-terminal.
func Aggregate(jobs []*ToolJob, cancelRequested bool) (Status, bool) {
	if len(jobs) == 0 {
		return "", false
	}
	var succeeded, cancelled int
	for _, j := range jobs {
		switch j.Status {
		case JobSucceeded:
			succeeded++
		case JobFailed:
		case JobCancelled:
			cancelled++
		default:
			return "", false
		}
	}
	switch {
	case succeeded == len(jobs):
		return StatusCompleted, true
	case succeeded > 0:
		// partial results beat hiding data, even after a cancel request
		return StatusPartial, true
	case cancelRequested || cancelled > 0:
		return StatusCancelled, true
	default:
		return StatusFailed, true
	}
}
