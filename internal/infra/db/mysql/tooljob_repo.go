package mysql

import (
	"context"
	"database/sql"
	"strings"
	"time"

	domain "github.com/ramjavii/nestsecure/internal/domain/scans"
)

// ToolJobRepository persists tool jobs. Pending rows form the dispatch
// backlog; ClaimQueued flips them to running inside one transaction with
// SKIP LOCKED so concurrent dispatchers never double-claim.
type ToolJobRepository struct {
	db *sql.DB
}

func NewToolJobRepository(db *sql.DB) *ToolJobRepository {
	return &ToolJobRepository{db: db}
}

const jobColumns = `id, scan_id, tenant_id, tool, handle, meta, status,
       started_at, finished_at, last_error, warning, artifact_url`

func (r *ToolJobRepository) Save(ctx context.Context, j *domain.ToolJob) error {
	const q = `
INSERT IGNORE INTO tool_jobs
(id, scan_id, tenant_id, tool, handle, meta, status,
 started_at, finished_at, last_error, warning, artifact_url)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?);
`
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
FROM tool_jobs WHERE id=? LIMIT 1;`
	return jobRow(r.db.QueryRowContext(ctx, q, id))
}

func (r *ToolJobRepository) ListByScan(ctx context.Context, scanID domain.ScanID) ([]*domain.ToolJob, error) {
	const q = `
SELECT ` + jobColumns + `
FROM tool_jobs WHERE scan_id=? ORDER BY tool;`
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
SET handle = ?, meta = ?, status = ?,
    started_at = ?, finished_at = ?,
    last_error = ?, warning = ?, artifact_url = ?
WHERE id = ?;`
	_, err := r.db.ExecContext(ctx, q,
		j.Handle, jsonText(j.Meta), j.Status,
		nullTime(j.StartedAt), nullTime(j.FinishedAt),
		j.LastError, j.Warning, j.ArtifactURL,
		j.ID,
	)
	return err
}

// ClaimQueued atomically flips up to limit pending jobs to running and
// returns them.
func (r *ToolJobRepository) ClaimQueued(ctx context.Context, limit int) ([]*domain.ToolJob, error) {
	if limit <= 0 {
		limit = 1
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	const sel = `
SELECT ` + jobColumns + `
FROM tool_jobs
WHERE status = 'pending'
ORDER BY id
LIMIT ?
FOR UPDATE SKIP LOCKED;`
	rows, err := tx.QueryContext(ctx, sel, limit)
	if err != nil {
		return nil, err
	}
	var out []*domain.ToolJob
	for rows.Next() {
		j, err := jobRow(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(out) == 0 {
		return nil, tx.Commit()
	}

	now := time.Now()
	ids := make([]any, 0, len(out))
	for _, j := range out {
		j.Status = domain.JobRunning
		j.StartedAt = &now
		ids = append(ids, j.ID)
	}
	upd := `UPDATE tool_jobs SET status='running', started_at=? WHERE id IN (?` +
		strings.Repeat(",?", len(ids)-1) + `);`
	args := append([]any{now}, ids...)
	if _, err := tx.ExecContext(ctx, upd, args...); err != nil {
		return nil, err
	}
	return out, tx.Commit()
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
