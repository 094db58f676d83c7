package findings

import (
	"strconv"
	"strings"
)

// Fixed mapping from the categorical scales the tools report to the common
// 0-10 numeric scale: critical/high/medium/low/info -> 9/7/5/2/0.
var severityLabels = map[string]float64{
	"critical":      9,
	"high":          7,
	"medium":        5,
	"moderate":      5,
	"low":           2,
	"info":          0,
	"informational": 0,
	"log":           0,
}

// SeverityFromLabel converts a categorical severity to the numeric scale.
// Unknown labels map to medium rather than dropping the finding.
func SeverityFromLabel(label string) float64 {
	if v, ok := severityLabels[strings.ToLower(strings.TrimSpace(label))]; ok {
		return v
	}
	return 5
}

// SeverityFromScore parses a numeric severity (CVSS-style 0-10 string),
// clamped into range. Falls back to the categorical mapping.
func SeverityFromScore(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return SeverityFromLabel(s)
	}
	return ClampSeverity(v)
}

func ClampSeverity(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}
