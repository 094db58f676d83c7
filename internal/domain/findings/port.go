package findings

import "context"

// Repository port. Findings are append-only: there is deliberately no
// update or delete operation here.
type Repository interface {
	Save(ctx context.Context, f *Finding) error
	ListByScan(ctx context.Context, tenant, scanID string) ([]*Finding, error)
}
