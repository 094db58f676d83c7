package mysql

import (
	"context"
	"database/sql"
	"errors"

	domain "github.com/ramjavii/nestsecure/internal/domain/vulns"
)

type VulnRepository struct {
	db *sql.DB
}

func NewVulnRepository(db *sql.DB) *VulnRepository {
	return &VulnRepository{db: db}
}

const vulnColumns = `id, tenant_id, host, port, identifier, title, severity,
       tools, evidence, status, first_seen, last_seen`

func (r *VulnRepository) Save(ctx context.Context, v *domain.Vulnerability) error {
	const q = `
INSERT INTO vulnerabilities
(id, tenant_id, host, port, identifier, title, severity,
 tools, evidence, status, first_seen, last_seen)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE
 title=VALUES(title),
 severity=VALUES(severity),
 tools=VALUES(tools),
 evidence=VALUES(evidence),
 status=VALUES(status),
 last_seen=VALUES(last_seen);
`
	_, err := r.db.ExecContext(ctx, q,
		v.ID, stringOrDash(v.TenantID), v.Host, nullInt(v.Port), v.Identifier, v.Title, v.Severity,
		jsonText(v.Tools), jsonText(v.Evidence), v.Status, v.FirstSeen, v.LastSeen,
	)
	return err
}

func vulnRow(row interface{ Scan(dest ...any) error }) (*domain.Vulnerability, error) {
	var v domain.Vulnerability
	var port sql.NullInt64
	var tools, evidence string
	if err := row.Scan(
		&v.ID, &v.TenantID, &v.Host, &port, &v.Identifier, &v.Title, &v.Severity,
		&tools, &evidence, &v.Status, &v.FirstSeen, &v.LastSeen,
	); err != nil {
		return nil, err
	}
	v.Port = intPtr(port)
	jsonInto(tools, &v.Tools)
	jsonInto(evidence, &v.Evidence)
	return &v, nil
}

func (r *VulnRepository) Get(ctx context.Context, tenant string, id domain.VulnID) (*domain.Vulnerability, error) {
	const q = `
SELECT ` + vulnColumns + `
FROM vulnerabilities
WHERE tenant_id=? AND id=? LIMIT 1;`
	return vulnRow(r.db.QueryRowContext(ctx, q, tenant, id))
}

// FindByKey matches on the exact (tenant, host, port, identifier) key and
// returns (nil, nil) when nothing matches. <=> is MySQL's null-safe equal.
func (r *VulnRepository) FindByKey(ctx context.Context, tenant, host string, port *int, identifier string) (*domain.Vulnerability, error) {
	const q = `
SELECT ` + vulnColumns + `
FROM vulnerabilities
WHERE tenant_id=? AND host=? AND port <=> ? AND identifier=?
LIMIT 1;`
	v, err := vulnRow(r.db.QueryRowContext(ctx, q, tenant, host, nullInt(port), identifier))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return v, err
}

func (r *VulnRepository) ListByLocation(ctx context.Context, tenant, host string, port *int) ([]*domain.Vulnerability, error) {
	const q = `
SELECT ` + vulnColumns + `
FROM vulnerabilities
WHERE tenant_id=? AND host=? AND port <=> ?
ORDER BY last_seen DESC;`
	rows, err := r.db.QueryContext(ctx, q, tenant, host, nullInt(port))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectVulns(rows)
}

func (r *VulnRepository) ListOpenByHost(ctx context.Context, tenant, host string) ([]*domain.Vulnerability, error) {
	const q = `
SELECT ` + vulnColumns + `
FROM vulnerabilities
WHERE tenant_id=? AND host=? AND status='open'
ORDER BY severity DESC, last_seen DESC;`
	rows, err := r.db.QueryContext(ctx, q, tenant, host)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectVulns(rows)
}

func (r *VulnRepository) List(ctx context.Context, tenant string, limit int) ([]*domain.Vulnerability, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT ` + vulnColumns + `
FROM vulnerabilities
WHERE tenant_id=?
ORDER BY severity DESC, last_seen DESC
LIMIT ?;`
	rows, err := r.db.QueryContext(ctx, q, tenant, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectVulns(rows)
}

func (r *VulnRepository) UpdateStatus(ctx context.Context, tenant string, id domain.VulnID, status domain.Status) error {
	const q = `
UPDATE vulnerabilities SET status = ?
WHERE tenant_id = ? AND id = ?;`
	_, err := r.db.ExecContext(ctx, q, status, tenant, id)
	return err
}

func collectVulns(rows *sql.Rows) ([]*domain.Vulnerability, error) {
	var out []*domain.Vulnerability
	for rows.Next() {
		v, err := vulnRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
