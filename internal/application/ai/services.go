package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ramjavii/nestsecure/internal/domain/ai"
	"github.com/ramjavii/nestsecure/internal/domain/analyst"
	"github.com/ramjavii/nestsecure/internal/domain/vulns"
)

// Service builds a digest of the correlated vulnerabilities for a scan,
// sends it to the AI analyst and stores the returned assessment.
type Service struct {
	client ai.Client
	vulns  vulns.Repository
	store  analyst.Repository
}

func NewService(client ai.Client, vulnRepo vulns.Repository, store analyst.Repository) *Service {
	return &Service{client: client, vulns: vulnRepo, store: store}
}

type digestEntry struct {
	VulnID   string   `json:"vuln_id"`
	Title    string   `json:"title"`
	Severity float64  `json:"severity"`
	Host     string   `json:"host"`
	Port     *int     `json:"port,omitempty"`
	Tools    []string `json:"tools"`
	Status   string   `json:"status"`
}

// AnalyzeScan digests every open vulnerability the tenant currently has,
// asks the analyst for an assessment and persists it keyed to the scan.
func (s *Service) AnalyzeScan(ctx context.Context, tenant, scanID string) (*analyst.Analysis, error) {
	if s.client == nil {
		return nil, fmt.Errorf("ai analyst is not configured")
	}
	open, err := s.vulns.List(ctx, tenant, 500)
	if err != nil {
		return nil, fmt.Errorf("listing vulnerabilities: %w", err)
	}
	digest, err := buildDigest(open)
	if err != nil {
		return nil, err
	}

	result, err := s.client.Analyze(ctx, digest)
	if err != nil {
		return nil, err
	}

	a := &analyst.Analysis{
		ID:        analyst.AnalysisID(uuid.NewString()),
		TenantID:  tenant,
		ScanID:    scanID,
		Result:    result,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Save(ctx, a); err != nil {
		return nil, fmt.Errorf("storing analysis: %w", err)
	}
	return a, nil
}

func (s *Service) Paginate(ctx context.Context, tenant string, page, pageSize int) ([]*analyst.Analysis, error) {
	return s.store.Paginate(ctx, tenant, page, pageSize)
}

func (s *Service) LatestByScan(ctx context.Context, tenant, scanID string) (*analyst.Analysis, error) {
	return s.store.LatestByScan(ctx, tenant, scanID)
}

func buildDigest(vs []*vulns.Vulnerability) (string, error) {
	entries := make([]digestEntry, 0, len(vs))
	for _, v := range vs {
		if v.Status != vulns.StatusOpen {
			continue
		}
		entries = append(entries, digestEntry{
			VulnID:   v.Identifier,
			Title:    v.Title,
			Severity: v.Severity,
			Host:     v.Host,
			Port:     v.Port,
			Tools:    v.Tools,
			Status:   string(v.Status),
		})
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("building digest: %w", err)
	}
	return string(b), nil
}
