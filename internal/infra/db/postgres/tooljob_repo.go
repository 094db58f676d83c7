package postgres

import (
	"context"
	"database/sql"
	"time"

	domain "github.com/ramjavii/nestsecure/internal/domain/scans"
)

// ToolJobRepository persists tool jobs. The table doubles as the durable
// dispatch queue: pending rows are the backlog, ClaimQueued flips them to
// running under row locks so concurrent dispatchers never double-claim.
type ToolJobRepository struct{ db *sql.DB }

func NewToolJobRepository(db *sql.DB) *ToolJobRepository { return &ToolJobRepository{db: db} }

const jobColumns = `id, scan_id, tenant_id, tool, handle, meta, status,
       started_at, finished_at, last_error, warning, artifact_url`

func (r *ToolJobRepository) Save(ctx context.Context, j *domain.ToolJob) error {
	const q = `
INSERT INTO tool_jobs
(id, scan_id, tenant_id, tool, handle, meta, status,
 started_at, finished_at, last_error, warning, artifact_url)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (id) DO NOTHING;`
	status := j.Status
	if status == "" {
		status = domain.JobPending
	}
	_, err := r.db.ExecContext(ctx, q,
		j.ID, j.ScanID, stringOrDash(j.TenantID), j.Tool, j.Handle, jsonText(j.Meta), status,
		nullTime(j.StartedAt), nullTime(j.FinishedAt), j.LastError, j.Warning, j.ArtifactURL,
	)
	return err
}

func jobRow(row interface{ Scan(dest ...any) error }) (*domain.ToolJob, error) {
	var j domain.ToolJob
	var meta string
	var started, finished sql.NullTime
	if err := row.Scan(
		&j.ID, &j.ScanID, &j.TenantID, &j.Tool, &j.Handle, &meta, &j.Status,
		&started, &finished, &j.LastError, &j.Warning, &j.ArtifactURL,
	); err != nil {
		return nil, err
	}
	jsonInto(meta, &j.Meta)
	j.StartedAt = timePtr(started)
	j.FinishedAt = timePtr(finished)
	return &j, nil
}

func (r *ToolJobRepository) Get(ctx context.Context, id domain.JobID) (*domain.ToolJob, error) {
	const q = `
SELECT ` + jobColumns + `
FROM tool_jobs WHERE id=$1 LIMIT 1;`
	return jobRow(r.db.QueryRowContext(ctx, q, id))
}

func (r *ToolJobRepository) ListByScan(ctx context.Context, scanID domain.ScanID) ([]*domain.ToolJob, error) {
	const q = `
SELECT ` + jobColumns + `
FROM tool_jobs WHERE scan_id=$1 ORDER BY tool;`
	rows, err := r.db.QueryContext(ctx, q, scanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.ToolJob
	for rows.Next() {
		j, err := jobRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r *ToolJobRepository) Update(ctx context.Context, j *domain.ToolJob) error {
	const q = `
UPDATE tool_jobs
SET handle = $1, meta = $2, status = $3,
    started_at = $4, finished_at = $5,
    last_error = $6, warning = $7, artifact_url = $8
WHERE id = $9;`
	_, err := r.db.ExecContext(ctx, q,
		j.Handle, jsonText(j.Meta), j.Status,
		nullTime(j.StartedAt), nullTime(j.FinishedAt),
		j.LastError, j.Warning, j.ArtifactURL,
		j.ID,
	)
	return err
}

// ClaimQueued atomically flips up to limit pending jobs to running and
// returns them. SKIP LOCKED keeps concurrent dispatchers from blocking on
// each other's claims.
func (r *ToolJobRepository) ClaimQueued(ctx context.Context, limit int) ([]*domain.ToolJob, error) {
	if limit <= 0 {
		limit = 1
	}
	const q = `
UPDATE tool_jobs
SET status = 'running', started_at = $1
WHERE id IN (
  SELECT id FROM tool_jobs
  WHERE status = 'pending'
  ORDER BY started_at NULLS FIRST, id
  LIMIT $2
  FOR UPDATE SKIP LOCKED
)
RETURNING ` + jobColumns + `;`
	rows, err := r.db.QueryContext(ctx, q, time.Now(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.ToolJob
	for rows.Next() {
		j, err := jobRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r *ToolJobRepository) ListRunning(ctx context.Context) ([]*domain.ToolJob, error) {
	const q = `
SELECT ` + jobColumns + `
FROM tool_jobs WHERE status='running' ORDER BY started_at;`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.ToolJob
	for rows.Next() {
		j, err := jobRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
