package risk

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/ramjavii/nestsecure/internal/domain/assets"
	"github.com/ramjavii/nestsecure/internal/domain/vulns"
)

// ExploitLookup answers whether a vulnerability identifier has a known
// public exploit (e.g. a CISA KEV entry). Supplied by an external
// collaborator; absence of a signal means the neutral factor applies.
type ExploitLookup interface {
	KnownExploited(ctx context.Context, vulnID string) (bool, error)
}

// Exploitability multipliers and the saturation constant of the score
// curve. The curve is 100*x/(x+k): monotone in every input, bounded by
// 100 for assets drowning in findings.
const (
	factorNeutral   = 1.0
	factorExploited = 1.5
	saturationK     = 50.0
)

// Calculator derives asset risk from open vulnerabilities and criticality.
// Recomputed only on correlation events, never on a schedule.
type Calculator struct {
	assets assets.Repository
	vulns  vulns.Repository
	lookup ExploitLookup
	logger *slog.Logger
	now    func() time.Time
}

func NewCalculator(assetRepo assets.Repository, vulnRepo vulns.Repository, lookup ExploitLookup, logger *slog.Logger) *Calculator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Calculator{assets: assetRepo, vulns: vulnRepo, lookup: lookup, logger: logger, now: time.Now}
}

// Score is the pure scoring function:
//
//	raw   = Σ severity × exploitability, over open vulnerabilities
//	score = 100 × (raw × criticalityWeight) / (raw × criticalityWeight + k)
func Score(open []*vulns.Vulnerability, criticality assets.Criticality, exploited map[string]bool) float64 {
	var raw float64
	for _, v := range open {
		if v.Status != vulns.StatusOpen {
			continue
		}
		factor := factorNeutral
		if v.Identifier != "" && exploited[v.Identifier] {
			factor = factorExploited
		}
		raw += v.Severity * factor
	}
	if raw <= 0 {
		return 0
	}
	weighted := raw * criticality.Weight()
	return 100 * weighted / (weighted + saturationK)
}

// Recompute reloads the asset's open vulnerabilities and writes back the
// derived score. Failures here are recorded against the asset and must
// never fail a scan retroactively; the caller only logs the error.
func (c *Calculator) Recompute(ctx context.Context, tenant, host string) error {
	asset, err := c.assets.GetByHost(ctx, tenant, host)
	if err != nil {
		return err
	}
	if asset == nil {
		// vulnerability on a host outside the inventory: nothing to score
		c.logger.DebugContext(ctx, "no asset for host, skipping risk recompute",
			slog.String("tenant", tenant), slog.String("host", host))
		return nil
	}

	open, err := c.vulns.ListOpenByHost(ctx, tenant, host)
	if err != nil {
		return err
	}

	exploited := make(map[string]bool)
	if c.lookup != nil {
		for _, v := range open {
			// the catalog keys are uppercase CVE ids
			id := strings.ToUpper(v.Identifier)
			if !strings.HasPrefix(id, "CVE-") {
				continue
			}
			known, err := c.lookup.KnownExploited(ctx, id)
			if err != nil {
				// lookup is an enrichment, not a dependency
				c.logger.WarnContext(ctx, "exploit lookup failed, using neutral factor",
					slog.String("vuln_id", id), slog.String("error", err.Error()))
				continue
			}
			exploited[v.Identifier] = known
		}
	}

	score := Score(open, asset.Criticality, exploited)
	return c.assets.UpdateRiskScore(ctx, tenant, asset.ID, score, c.now())
}
