package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ramjavii/nestsecure/internal/domain/assets"
	"github.com/ramjavii/nestsecure/internal/domain/vulns"
)

func open(identifier string, severity float64) *vulns.Vulnerability {
	return &vulns.Vulnerability{
		ID:         vulns.VulnID("v-" + identifier),
		TenantID:   "acme",
		Host:       "web01",
		Identifier: identifier,
		Severity:   severity,
		Status:     vulns.StatusOpen,
	}
}

func TestScoreZeroWhenNothingOpen(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0.0, Score(nil, assets.CriticalityHigh, nil))

	resolved := open("CVE-1", 9)
	resolved.Status = vulns.StatusResolved
	require.Equal(t, 0.0, Score([]*vulns.Vulnerability{resolved}, assets.CriticalityHigh, nil))
}

func TestScoreMonotoneInSeverity(t *testing.T) {
	t.Parallel()

	low := Score([]*vulns.Vulnerability{open("CVE-1", 3)}, assets.CriticalityMedium, nil)
	high := Score([]*vulns.Vulnerability{open("CVE-1", 9)}, assets.CriticalityMedium, nil)
	require.Greater(t, high, low)

	more := Score([]*vulns.Vulnerability{open("CVE-1", 9), open("CVE-2", 5)}, assets.CriticalityMedium, nil)
	require.Greater(t, more, high, "an extra open vulnerability must raise the score")
}

func TestScoreMonotoneInCriticality(t *testing.T) {
	t.Parallel()

	vs := []*vulns.Vulnerability{open("CVE-1", 7), open("CVE-2", 5)}
	prev := -1.0
	for _, c := range []assets.Criticality{
		assets.CriticalityLow,
		assets.CriticalityMedium,
		assets.CriticalityHigh,
		assets.CriticalityCritical,
	} {
		s := Score(vs, c, nil)
		require.Greater(t, s, prev, "criticality %s", c)
		prev = s
	}
}

func TestScoreBoundedBelowHundred(t *testing.T) {
	t.Parallel()

	var vs []*vulns.Vulnerability
	for i := 0; i < 500; i++ {
		vs = append(vs, open(string(rune('a'+i%26)), 10))
	}
	s := Score(vs, assets.CriticalityCritical, nil)
	require.Less(t, s, 100.0)
	require.Greater(t, s, 99.0, "a drowning asset saturates near the cap")
}

func TestScoreKnownExploitFactor(t *testing.T) {
	t.Parallel()

	vs := []*vulns.Vulnerability{open("CVE-2023-46805", 8)}
	plain := Score(vs, assets.CriticalityMedium, nil)
	kev := Score(vs, assets.CriticalityMedium, map[string]bool{"CVE-2023-46805": true})
	require.Greater(t, kev, plain, "a known-exploited identifier must weigh more")

	// 8*1.5=12 raw; 100*12/62
	require.InDelta(t, 100*12.0/62.0, kev, 1e-9)
}

type fakeAssetRepo struct {
	asset   *assets.Asset
	getErr  error
	updated []float64
}

func (r *fakeAssetRepo) GetByHost(context.Context, string, string) (*assets.Asset, error) {
	return r.asset, r.getErr
}

func (r *fakeAssetRepo) List(context.Context, string, int) ([]*assets.Asset, error) {
	if r.asset == nil {
		return nil, nil
	}
	return []*assets.Asset{r.asset}, nil
}

func (r *fakeAssetRepo) UpdateRiskScore(_ context.Context, _ string, _ string, score float64, _ time.Time) error {
	r.updated = append(r.updated, score)
	return nil
}

type fakeVulnLister struct {
	vulns.Repository
	open []*vulns.Vulnerability
}

func (r *fakeVulnLister) ListOpenByHost(context.Context, string, string) ([]*vulns.Vulnerability, error) {
	return r.open, nil
}

type fakeLookup struct {
	known map[string]bool
	err   error
	calls []string
}

func (l *fakeLookup) KnownExploited(_ context.Context, id string) (bool, error) {
	l.calls = append(l.calls, id)
	return l.known[id], l.err
}

func TestRecomputeWritesScore(t *testing.T) {
	t.Parallel()

	ar := &fakeAssetRepo{asset: &assets.Asset{ID: "a1", TenantID: "acme", Host: "web01", Criticality: assets.CriticalityHigh}}
	vr := &fakeVulnLister{open: []*vulns.Vulnerability{open("CVE-1", 7)}}
	lookup := &fakeLookup{known: map[string]bool{"CVE-1": true}}

	c := NewCalculator(ar, vr, lookup, nil)
	require.NoError(t, c.Recompute(context.Background(), "acme", "web01"))
	require.Len(t, ar.updated, 1)
	require.InDelta(t, Score(vr.open, assets.CriticalityHigh, map[string]bool{"CVE-1": true}), ar.updated[0], 1e-9)
	require.Equal(t, []string{"CVE-1"}, lookup.calls)
}

func TestRecomputeSkipsUnknownHost(t *testing.T) {
	t.Parallel()

	ar := &fakeAssetRepo{}
	c := NewCalculator(ar, &fakeVulnLister{}, nil, nil)
	require.NoError(t, c.Recompute(context.Background(), "acme", "ghost"))
	require.Empty(t, ar.updated, "hosts outside the inventory are not scored")
}

func TestRecomputeLookupFailureFallsBackToNeutral(t *testing.T) {
	t.Parallel()

	ar := &fakeAssetRepo{asset: &assets.Asset{ID: "a1", Criticality: assets.CriticalityMedium}}
	vr := &fakeVulnLister{open: []*vulns.Vulnerability{open("CVE-1", 8)}}
	lookup := &fakeLookup{err: errors.New("kev feed unreachable")}

	c := NewCalculator(ar, vr, lookup, nil)
	require.NoError(t, c.Recompute(context.Background(), "acme", "web01"))
	require.Len(t, ar.updated, 1)
	require.InDelta(t, Score(vr.open, assets.CriticalityMedium, nil), ar.updated[0], 1e-9)
}

func TestRecomputeUppercasesCVEForLookup(t *testing.T) {
	t.Parallel()

	ar := &fakeAssetRepo{asset: &assets.Asset{ID: "a1", Criticality: assets.CriticalityMedium}}
	vr := &fakeVulnLister{open: []*vulns.Vulnerability{open("cve-2023-46805", 8)}}
	lookup := &fakeLookup{known: map[string]bool{"CVE-2023-46805": true}}

	c := NewCalculator(ar, vr, lookup, nil)
	require.NoError(t, c.Recompute(context.Background(), "acme", "web01"))
	require.Equal(t, []string{"CVE-2023-46805"}, lookup.calls, "catalog keys are uppercase")
	require.Len(t, ar.updated, 1)
	require.InDelta(t, 100*12.0/62.0, ar.updated[0], 1e-9, "the exploited factor must apply despite the lowercase id")
}

func TestRecomputeSkipsNonCVELookups(t *testing.T) {
	t.Parallel()

	ar := &fakeAssetRepo{asset: &assets.Asset{ID: "a1", Criticality: assets.CriticalityMedium}}
	vr := &fakeVulnLister{open: []*vulns.Vulnerability{
		open("zap-40018", 6),
		open("CVE-2", 5),
	}}
	lookup := &fakeLookup{}

	c := NewCalculator(ar, vr, lookup, nil)
	require.NoError(t, c.Recompute(context.Background(), "acme", "web01"))
	require.Equal(t, []string{"CVE-2"}, lookup.calls, "only CVE identifiers reach the exploit feed")
}
