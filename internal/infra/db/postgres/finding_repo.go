package postgres

import (
	"context"
	"database/sql"
	"time"

	domain "github.com/ramjavii/nestsecure/internal/domain/findings"
)

type FindingRepository struct{ db *sql.DB }

func NewFindingRepository(db *sql.DB) *FindingRepository { return &FindingRepository{db: db} }

const findingColumns = `id, tenant_id, scan_id, job_id, tool, host, port, protocol,
       vuln_id, title, severity, evidence, confidence, detected_at`

func (r *FindingRepository) Save(ctx context.Context, f *domain.Finding) error {
	const q = `
INSERT INTO findings
(id, tenant_id, scan_id, job_id, tool, host, port, protocol,
 vuln_id, title, severity, evidence, confidence, detected_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (id) DO NOTHING;`
	detected := f.DetectedAt
	if detected.IsZero() {
		detected = time.Now()
	}
	_, err := r.db.ExecContext(ctx, q,
		f.ID, stringOrDash(f.TenantID), f.ScanID, f.JobID, f.Tool, f.Host, nullInt(f.Port), f.Protocol,
		f.VulnID, f.Title, f.Severity, f.Evidence, f.Confidence, detected,
	)
	return err
}

func findingRow(row interface{ Scan(dest ...any) error }) (*domain.Finding, error) {
	var f domain.Finding
	var port sql.NullInt64
	if err := row.Scan(
		&f.ID, &f.TenantID, &f.ScanID, &f.JobID, &f.Tool, &f.Host, &port, &f.Protocol,
		&f.VulnID, &f.Title, &f.Severity, &f.Evidence, &f.Confidence, &f.DetectedAt,
	); err != nil {
		return nil, err
	}
	f.Port = intPtr(port)
	return &f, nil
}

func (r *FindingRepository) ListByScan(ctx context.Context, tenant, scanID string) ([]*domain.Finding, error) {
	const q = `
SELECT ` + findingColumns + `
FROM findings
WHERE tenant_id=$1 AND scan_id=$2
ORDER BY detected_at, id;`
	rows, err := r.db.QueryContext(ctx, q, tenant, scanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Finding
	for rows.Next() {
		f, err := findingRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
