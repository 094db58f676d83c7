package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	domain "github.com/ramjavii/nestsecure/internal/domain/assets"
)

type AssetRepository struct{ db *sql.DB }

func NewAssetRepository(db *sql.DB) *AssetRepository { return &AssetRepository{db: db} }

const assetColumns = `id, tenant_id, host, name, criticality, risk_score, risk_updated_at`

func (r *AssetRepository) GetByHost(ctx context.Context, tenant, host string) (*domain.Asset, error) {
	const q = `
SELECT ` + assetColumns + `
FROM assets
WHERE tenant_id=$1 AND host=$2 LIMIT 1;`
	a, err := assetRow(r.db.QueryRowContext(ctx, q, tenant, host))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (r *AssetRepository) List(ctx context.Context, tenant string, limit int) ([]*domain.Asset, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT ` + assetColumns + `
FROM assets
WHERE tenant_id=$1
ORDER BY risk_score DESC, host
LIMIT $2;`
	rows, err := r.db.QueryContext(ctx, q, tenant, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Asset
	for rows.Next() {
		a, err := assetRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *AssetRepository) UpdateRiskScore(ctx context.Context, tenant, id string, score float64, at time.Time) error {
	const q = `
UPDATE assets SET risk_score = $1, risk_updated_at = $2
WHERE tenant_id = $3 AND id = $4;`
	_, err := r.db.ExecContext(ctx, q, score, at, tenant, id)
	return err
}

func assetRow(row interface{ Scan(dest ...any) error }) (*domain.Asset, error) {
	var a domain.Asset
	var updated sql.NullTime
	if err := row.Scan(&a.ID, &a.TenantID, &a.Host, &a.Name, &a.Criticality, &a.RiskScore, &updated); err != nil {
		return nil, err
	}
	a.RiskUpdatedAt = timePtr(updated)
	return &a, nil
}
