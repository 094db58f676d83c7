package assets

import (
	"time"
)

// Criticality tier of an asset, set by inventory management.
type Criticality string

const (
	CriticalityLow      Criticality = "low"
	CriticalityMedium   Criticality = "medium"
	CriticalityHigh     Criticality = "high"
	CriticalityCritical Criticality = "critical"
)

// Weight returns the multiplier the risk calculator applies per tier.
func (c Criticality) Weight() float64 {
	switch c {
	case CriticalityLow:
		return 0.6
	case CriticalityHigh:
		return 1.3
	case CriticalityCritical:
		return 1.6
	default:
		return 1.0
	}
}

// Asset is a pre-existing inventory entity. The core never creates assets;
// it reads criticality and writes back the derived risk score only.
type Asset struct {
	ID            string      `json:"id"`
	TenantID      string      `json:"tenant_id"`
	Host          string      `json:"host"`
	Name          string      `json:"name,omitempty"`
	Criticality   Criticality `json:"criticality"`
	RiskScore     float64     `json:"risk_score"`
	RiskUpdatedAt *time.Time  `json:"risk_updated_at,omitempty"`
}
