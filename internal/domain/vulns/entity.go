package vulns

import (
	"time"
)

// VulnID type
type VulnID string

// Status enum
type Status string

const (
	StatusOpen         Status = "open"
	StatusResolved     Status = "resolved"
	StatusAcceptedRisk Status = "accepted_risk"
)

// Vulnerability is the correlated, deduplicated record: one real issue,
// possibly evidenced by findings from several tools. Mutated only by the
// correlation engine.
type Vulnerability struct {
	ID         VulnID    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	Host       string    `json:"host,omitempty"`
	Port       *int      `json:"port,omitempty"`
	Identifier string    `json:"identifier,omitempty"` // CVE / CPE / plugin id
	Title      string    `json:"title"`
	Severity   float64   `json:"severity"` // max over contributing findings
	Tools      []string  `json:"tools"`
	Evidence   []string  `json:"evidence,omitempty"`
	Status     Status    `json:"status"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
}

// HasTool reports whether the given tool already contributed evidence.
func (v *Vulnerability) HasTool(tool string) bool {
	for _, t := range v.Tools {
		if t == tool {
			return true
		}
	}
	return false
}
