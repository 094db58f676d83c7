package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	domain "github.com/ramjavii/nestsecure/internal/domain/scans"
)

type ScanRepository struct {
	db *sql.DB
}

func NewScanRepository(db *sql.DB) *ScanRepository {
	return &ScanRepository{db: db}
}

const scanColumns = `id, tenant_id, targets, tools, status, cancel_requested,
       requested_at, started_at, finished_at, source, metadata`

// Save insert/update Scan record
func (r *ScanRepository) Save(ctx context.Context, s *domain.Scan) error {
	const q = `
INSERT INTO scans
(id, tenant_id, targets, tools, status, cancel_requested,
 requested_at, started_at, finished_at, source, metadata)
VALUES (?,?,?,?,?,?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE
 status=VALUES(status),
 cancel_requested=VALUES(cancel_requested),
 started_at=VALUES(started_at),
 finished_at=VALUES(finished_at),
 metadata=VALUES(metadata);
`
	tenant := stringOrDash(s.TenantID)
	status := stringOrDash(string(s.Status))
	requested := s.RequestedAt
	if requested.IsZero() {
		requested = time.Now()
	}
	_, err := r.db.ExecContext(ctx, q,
		s.ID, tenant, jsonText(s.Targets), jsonText(s.Tools), status, s.CancelRequested,
		requested, nullTime(s.StartedAt), nullTime(s.FinishedAt), s.Source, jsonText(s.Metadata),
	)
	return err
}

func scanRow(row interface{ Scan(dest ...any) error }) (*domain.Scan, error) {
	var s domain.Scan
	var targets, tools, metadata string
	var started, finished sql.NullTime
	if err := row.Scan(
		&s.ID, &s.TenantID, &targets, &tools, &s.Status, &s.CancelRequested,
		&s.RequestedAt, &started, &finished, &s.Source, &metadata,
	); err != nil {
		return nil, err
	}
	jsonInto(targets, &s.Targets)
	jsonInto(tools, &s.Tools)
	jsonInto(metadata, &s.Metadata)
	s.StartedAt = timePtr(started)
	s.FinishedAt = timePtr(finished)
	return &s, nil
}

// Get by ID + Tenant
func (r *ScanRepository) Get(ctx context.Context, tenant string, id domain.ScanID) (*domain.Scan, error) {
	const q = `
SELECT ` + scanColumns + `
FROM scans
WHERE tenant_id=? AND id=? LIMIT 1;
`
	return scanRow(r.db.QueryRowContext(ctx, q, tenant, id))
}

// Latest scans per tenant
func (r *ScanRepository) Latest(ctx context.Context, tenant string, limit int) ([]*domain.Scan, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT ` + scanColumns + `
FROM scans
WHERE tenant_id=? ORDER BY requested_at DESC LIMIT ?;
`
	rows, err := r.db.QueryContext(ctx, q, tenant, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Scan
	for rows.Next() {
		s, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *ScanRepository) UpdateStatus(ctx context.Context, tenant string, id domain.ScanID, status domain.Status) error {
	const q = `
UPDATE scans
SET status = ?,
    started_at = IF(started_at IS NULL AND ? = 'running', NOW(), started_at)
WHERE tenant_id = ? AND id = ?;`
	_, err := r.db.ExecContext(ctx, q, status, status, tenant, id)
	return err
}

func (r *ScanRepository) MarkCancelRequested(ctx context.Context, tenant string, id domain.ScanID) error {
	const q = `
UPDATE scans SET cancel_requested = TRUE
WHERE tenant_id = ? AND id = ?;`
	_, err := r.db.ExecContext(ctx, q, tenant, id)
	return err
}

// MarkFinished is conditional on the scan not being terminal yet, so a late
// finalizer never overwrites an earlier terminal status.
func (r *ScanRepository) MarkFinished(ctx context.Context, tenant string, id domain.ScanID, status domain.Status, at time.Time) error {
	const q = `
UPDATE scans SET status = ?, finished_at = ?
WHERE tenant_id = ? AND id = ?
  AND status NOT IN ('completed','partial','failed','cancelled');`
	_, err := r.db.ExecContext(ctx, q, status, at, tenant, id)
	return err
}

// Paginate with offset + limit (classic pagination)
func (r *ScanRepository) Paginate(ctx context.Context, tenant string, page, pageSize int) (domain.PaginatedResult, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	const q = `
SELECT ` + scanColumns + `
FROM scans
WHERE tenant_id=?
ORDER BY requested_at DESC, id DESC
LIMIT ? OFFSET ?;`
	rows, err := r.db.QueryContext(ctx, q, tenant, pageSize, offset)
	if err != nil {
		return domain.PaginatedResult{}, fmt.Errorf("querying scans: %w", err)
	}
	defer rows.Close()

	var scans []*domain.Scan
	for rows.Next() {
		s, err := scanRow(rows)
		if err != nil {
			return domain.PaginatedResult{}, fmt.Errorf("scanning row: %w", err)
		}
		scans = append(scans, s)
	}
	if err = rows.Err(); err != nil {
		return domain.PaginatedResult{}, fmt.Errorf("iterating rows: %w", err)
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM scans WHERE tenant_id = ?", tenant).Scan(&total); err != nil {
		return domain.PaginatedResult{}, fmt.Errorf("getting total count: %w", err)
	}

	return domain.PaginatedResult{
		Data:       scans,
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: int(math.Ceil(float64(total) / float64(pageSize))),
	}, nil
}

// Summary counts scans per status since N days
func (r *ScanRepository) Summary(ctx context.Context, tenant string, sinceDays int) (map[domain.Status]int, error) {
	if sinceDays <= 0 {
		sinceDays = 7
	}
	cut := time.Now().AddDate(0, 0, -sinceDays)
	const q = `
SELECT status, COUNT(*)
FROM scans
WHERE tenant_id=? AND requested_at >= ?
GROUP BY status;`
	rows, err := r.db.QueryContext(ctx, q, tenant, cut)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[domain.Status]int)
	for rows.Next() {
		var st domain.Status
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[st] = n
	}
	return out, rows.Err()
}
