package assets

import (
	"context"
	"time"
)

// Repository port. Read inventory, write back risk scores; nothing else.
type Repository interface {
	GetByHost(ctx context.Context, tenant, host string) (*Asset, error)
	List(ctx context.Context, tenant string, limit int) ([]*Asset, error)
	UpdateRiskScore(ctx context.Context, tenant, id string, score float64, at time.Time) error
}
