package vulns

import "context"

// Repository port for correlated vulnerabilities.
//
// The identifier column carries no referential integrity to any local
// identifier cache: identifiers unknown locally are stored and correlated
// as-is, never rejected.
type Repository interface {
	Save(ctx context.Context, v *Vulnerability) error
	Get(ctx context.Context, tenant string, id VulnID) (*Vulnerability, error)
	// FindByKey matches on the exact (tenant, host, port, identifier) key.
	// Returns (nil, nil) when no record matches.
	FindByKey(ctx context.Context, tenant, host string, port *int, identifier string) (*Vulnerability, error)
	// ListByLocation returns all records for (tenant, host, port),
	// identifier present or not; used for the fuzzy title fallback.
	ListByLocation(ctx context.Context, tenant, host string, port *int) ([]*Vulnerability, error)
	ListOpenByHost(ctx context.Context, tenant, host string) ([]*Vulnerability, error)
	List(ctx context.Context, tenant string, limit int) ([]*Vulnerability, error)
	UpdateStatus(ctx context.Context, tenant string, id VulnID, status Status) error
}
