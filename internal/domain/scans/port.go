package scans

import (
	"context"
	"time"
)

// Repository port (persistence for Scan aggregates)
type Repository interface {
	Save(ctx context.Context, s *Scan) error
	Get(ctx context.Context, tenant string, id ScanID) (*Scan, error)
	Latest(ctx context.Context, tenant string, limit int) ([]*Scan, error)
	UpdateStatus(ctx context.Context, tenant string, id ScanID, status Status) error
	MarkCancelRequested(ctx context.Context, tenant string, id ScanID) error
	MarkFinished(ctx context.Context, tenant string, id ScanID, status Status, at time.Time) error
	Paginate(ctx context.Context, tenant string, page, pageSize int) (PaginatedResult, error)
	Summary(ctx context.Context, tenant string, sinceDays int) (map[Status]int, error)
}

// JobRepository port. The tool_jobs table doubles as the durable dispatch
// queue: ClaimQueued atomically flips queued rows to running ownership so
// orchestration survives a process restart with no in-memory state.
type JobRepository interface {
	Save(ctx context.Context, j *ToolJob) error
	Get(ctx context.Context, id JobID) (*ToolJob, error)
	ListByScan(ctx context.Context, scanID ScanID) ([]*ToolJob, error)
	Update(ctx context.Context, j *ToolJob) error
	ClaimQueued(ctx context.Context, limit int) ([]*ToolJob, error)
	ListRunning(ctx context.Context) ([]*ToolJob, error)
}

// ArtifactStore port: archive of raw tool reports.
type ArtifactStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// PaginatedResult represents a paginated response with data and metadata
type PaginatedResult struct {
	Data       []*Scan `json:"data"`
	Page       int     `json:"page"`
	PageSize   int     `json:"pageSize"`
	Total      int64   `json:"totalItems"`
	TotalPages int     `json:"totalPages"`
}
