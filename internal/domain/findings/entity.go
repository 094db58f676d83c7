package findings

import (
	"time"
)

// FindingID type
type FindingID string

// Finding is the raw normalized output of one parser invocation.
// Immutable once created; corrections happen by superseding merge in the
// correlation engine, never by editing a persisted Finding.
type Finding struct {
	ID         FindingID `json:"id"`
	TenantID   string    `json:"tenant_id"`
	ScanID     string    `json:"scan_id"`
	JobID      string    `json:"job_id"`
	Tool       string    `json:"tool"`
	Host       string    `json:"host"`
	Port       *int      `json:"port,omitempty"`
	Protocol   string    `json:"protocol,omitempty"`
	VulnID     string    `json:"vuln_id,omitempty"` // CVE / CPE / plugin id
	Title      string    `json:"title"`
	Severity   float64   `json:"severity"` // normalized 0-10
	Evidence   string    `json:"evidence,omitempty"`
	Confidence float64   `json:"confidence"`
	DetectedAt time.Time `json:"detected_at"`
}

// DefaultConfidence is used when a tool reports no confidence of its own.
const DefaultConfidence = 0.8
