package correlation

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ramjavii/nestsecure/internal/domain/findings"
	"github.com/ramjavii/nestsecure/internal/domain/vulns"
)

type memVulnRepo struct {
	mu    sync.Mutex
	items map[vulns.VulnID]*vulns.Vulnerability
}

func newMemVulnRepo() *memVulnRepo {
	return &memVulnRepo{items: make(map[vulns.VulnID]*vulns.Vulnerability)}
}

func (r *memVulnRepo) Save(_ context.Context, v *vulns.Vulnerability) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *v
	r.items[v.ID] = &cp
	return nil
}

func (r *memVulnRepo) Get(_ context.Context, tenant string, id vulns.VulnID) (*vulns.Vulnerability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.items[id]
	if !ok || v.TenantID != tenant {
		return nil, sql.ErrNoRows
	}
	cp := *v
	return &cp, nil
}

func (r *memVulnRepo) FindByKey(_ context.Context, tenant, host string, port *int, identifier string) (*vulns.Vulnerability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.items {
		if v.TenantID == tenant && v.Host == host && samePort(v.Port, port) && v.Identifier == identifier {
			cp := *v
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memVulnRepo) ListByLocation(_ context.Context, tenant, host string, port *int) ([]*vulns.Vulnerability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*vulns.Vulnerability
	for _, v := range r.items {
		if v.TenantID == tenant && v.Host == host && samePort(v.Port, port) {
			cp := *v
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memVulnRepo) ListOpenByHost(_ context.Context, tenant, host string) ([]*vulns.Vulnerability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*vulns.Vulnerability
	for _, v := range r.items {
		if v.TenantID == tenant && v.Host == host && v.Status == vulns.StatusOpen {
			cp := *v
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memVulnRepo) List(_ context.Context, tenant string, _ int) ([]*vulns.Vulnerability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*vulns.Vulnerability
	for _, v := range r.items {
		if v.TenantID == tenant {
			cp := *v
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memVulnRepo) UpdateStatus(_ context.Context, tenant string, id vulns.VulnID, status vulns.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.items[id]; ok && v.TenantID == tenant {
		v.Status = status
	}
	return nil
}

func samePort(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

type memFindingRepo struct {
	mu    sync.Mutex
	items []*findings.Finding
}

func (r *memFindingRepo) Save(_ context.Context, f *findings.Finding) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *f
	r.items = append(r.items, &cp)
	return nil
}

func (r *memFindingRepo) ListByScan(_ context.Context, tenant, scanID string) ([]*findings.Finding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*findings.Finding
	for _, f := range r.items {
		if f.TenantID == tenant && f.ScanID == scanID {
			out = append(out, f)
		}
	}
	return out, nil
}

func newEngine(t *testing.T) (*Engine, *memVulnRepo, *memFindingRepo) {
	t.Helper()
	vr := newMemVulnRepo()
	fr := &memFindingRepo{}
	return New(vr, fr, 0.85, nil), vr, fr
}

func finding(tool, host string, port int, vulnID, title string, severity float64) *findings.Finding {
	p := port
	return &findings.Finding{
		TenantID:   "acme",
		ScanID:     "scan-1",
		JobID:      "job-" + tool,
		Tool:       tool,
		Host:       host,
		Port:       &p,
		VulnID:     vulnID,
		Title:      title,
		Severity:   severity,
		Confidence: findings.DefaultConfidence,
		DetectedAt: time.Now(),
	}
}

func TestIngestCreatesVulnerability(t *testing.T) {
	t.Parallel()
	e, vr, fr := newEngine(t)

	v, err := e.Ingest(context.Background(), finding("nuclei", "10.0.0.5", 443, "CVE-2024-1234", "TLS thing", 7))
	require.NoError(t, err)
	require.NotEmpty(t, v.ID)
	require.Equal(t, vulns.StatusOpen, v.Status)
	require.Equal(t, []string{"nuclei"}, v.Tools)
	require.Len(t, vr.items, 1)
	require.Len(t, fr.items, 1, "the raw finding must be persisted too")
}

func TestIngestMergesSameIdentifierAcrossTools(t *testing.T) {
	t.Parallel()
	e, vr, _ := newEngine(t)
	ctx := context.Background()

	first, err := e.Ingest(ctx, finding("gvm", "10.0.0.5", 443, "CVE-2024-1234", "OpenSSL vuln", 7))
	require.NoError(t, err)
	second, err := e.Ingest(ctx, finding("nuclei", "10.0.0.5", 443, "CVE-2024-1234", "openssl vulnerability", 9))
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID, "same key must merge, not duplicate")
	require.Len(t, vr.items, 1)
	require.Equal(t, 9.0, second.Severity, "merged severity is the max")
	require.ElementsMatch(t, []string{"gvm", "nuclei"}, second.Tools)
}

func TestIngestSeverityMaxIsOrderIndependent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	run := func(sevs []float64) float64 {
		e, vr, _ := newEngine(t)
		for i, s := range sevs {
			tool := []string{"gvm", "nuclei", "zap"}[i]
			_, err := e.Ingest(ctx, finding(tool, "h", 80, "CVE-1", "t", s))
			require.NoError(t, err)
		}
		require.Len(t, vr.items, 1)
		for _, v := range vr.items {
			return v.Severity
		}
		return -1
	}

	require.Equal(t, 9.0, run([]float64{7, 9, 5}))
	require.Equal(t, 9.0, run([]float64{9, 5, 7}))
	require.Equal(t, 9.0, run([]float64{5, 7, 9}))
}

func TestIngestIsIdempotentForRepeatedFinding(t *testing.T) {
	t.Parallel()
	e, vr, _ := newEngine(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := e.Ingest(ctx, finding("zap", "web01", 8080, "zap-40012", "XSS reflected", 7))
		require.NoError(t, err)
	}
	require.Len(t, vr.items, 1)
	for _, v := range vr.items {
		require.Equal(t, 7.0, v.Severity)
		require.Equal(t, []string{"zap"}, v.Tools)
	}
}

func TestIngestFuzzyTitleMatchWithoutIdentifier(t *testing.T) {
	t.Parallel()
	e, vr, _ := newEngine(t)
	ctx := context.Background()

	_, err := e.Ingest(ctx, finding("zap", "web01", 443, "", "SQL Injection in /login", 8))
	require.NoError(t, err)
	merged, err := e.Ingest(ctx, finding("nuclei", "web01", 443, "", "SQL injection in /login!", 6))
	require.NoError(t, err)

	require.Len(t, vr.items, 1, "nearly identical titles at one location must merge")
	require.Equal(t, 8.0, merged.Severity)
}

func TestIngestDissimilarTitlesStaySeparate(t *testing.T) {
	t.Parallel()
	e, vr, _ := newEngine(t)
	ctx := context.Background()

	_, err := e.Ingest(ctx, finding("zap", "web01", 443, "", "SQL Injection in /login", 8))
	require.NoError(t, err)
	_, err = e.Ingest(ctx, finding("zap", "web01", 443, "", "Missing X-Frame-Options header", 2))
	require.NoError(t, err)
	require.Len(t, vr.items, 2)
}

func TestIngestAmbiguousMatchReturnsConflict(t *testing.T) {
	t.Parallel()
	e, vr, fr := newEngine(t)
	ctx := context.Background()

	// two pre-existing records whose titles are equally close to the
	// incoming one
	port := 443
	for _, title := range []string{
		"Cross Site Scripting in search page A",
		"Cross Site Scripting in search page B",
	} {
		require.NoError(t, vr.Save(ctx, &vulns.Vulnerability{
			ID:       vulns.VulnID(uuid.NewString()),
			TenantID: "acme",
			Host:     "web01",
			Port:     &port,
			Title:    title,
			Severity: 5,
			Tools:    []string{"zap"},
			Status:   vulns.StatusOpen,
		}))
	}

	before := len(fr.items)
	_, err := e.Ingest(ctx, finding("nuclei", "web01", 443, "", "Cross Site Scripting in search page C", 5))
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Len(t, conflict.Candidates, 2)
	require.Len(t, fr.items, before+1, "the conflicting finding itself is still persisted")
	require.Len(t, vr.items, 2, "no automatic merge on ambiguity")
}

func TestIngestReopensResolvedVulnerability(t *testing.T) {
	t.Parallel()
	e, vr, _ := newEngine(t)
	ctx := context.Background()

	v, err := e.Ingest(ctx, finding("gvm", "db01", 5432, "CVE-2023-9999", "pg vuln", 7))
	require.NoError(t, err)
	require.NoError(t, e.SetStatus(ctx, "acme", v.ID, vulns.StatusResolved))

	again, err := e.Ingest(ctx, finding("gvm", "db01", 5432, "CVE-2023-9999", "pg vuln", 7))
	require.NoError(t, err)
	require.Equal(t, v.ID, again.ID)
	require.Equal(t, vulns.StatusOpen, again.Status, "re-detection must reopen")
	require.Equal(t, vulns.StatusOpen, vr.items[v.ID].Status)
}

func TestIngestEmitsEvents(t *testing.T) {
	t.Parallel()
	e, _, _ := newEngine(t)
	ctx := context.Background()

	var events []Event
	e.OnEvent(func(_ context.Context, ev Event) { events = append(events, ev) })

	_, err := e.Ingest(ctx, finding("gvm", "h", 22, "CVE-1", "ssh vuln", 5))
	require.NoError(t, err)
	_, err = e.Ingest(ctx, finding("nuclei", "h", 22, "CVE-1", "ssh vuln", 9))
	require.NoError(t, err)

	require.Len(t, events, 2)
	require.True(t, events[0].Created)
	require.False(t, events[1].Created)
	require.True(t, events[1].Escalated)
}

func TestNormalizeTitle(t *testing.T) {
	t.Parallel()

	require.Equal(t, "sql injection in login", normalizeTitle("SQL Injection in /login!"))
	require.Equal(t, "xss", normalizeTitle("  XSS  "))
	require.Equal(t, "", normalizeTitle("!!!"))
}

func TestSimilarity(t *testing.T) {
	t.Parallel()

	require.Equal(t, 1.0, similarity("abc", "abc"))
	require.Equal(t, 1.0, similarity("", ""))
	require.InDelta(t, 0.75, similarity("abcd", "abcx"), 1e-9)
	require.Less(t, similarity("sql injection", "open redirect"), 0.5)
}
