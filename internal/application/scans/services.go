package scans

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	app "github.com/ramjavii/nestsecure/internal/application"
	"github.com/ramjavii/nestsecure/internal/application/correlation"
	"github.com/ramjavii/nestsecure/internal/domain/findings"
	"github.com/ramjavii/nestsecure/internal/domain/scanerrors"
	domain "github.com/ramjavii/nestsecure/internal/domain/scans"
	"github.com/ramjavii/nestsecure/internal/domain/vulns"
	"github.com/ramjavii/nestsecure/internal/integration"
	"github.com/ramjavii/nestsecure/internal/logx"
	"github.com/ramjavii/nestsecure/internal/parsers"
)

// ClientFactory hands out the (already resilience-guarded) client for a
// tool. Injected so tests can substitute fakes per tool.
type ClientFactory func(tool domain.Tool) (integration.Client, error)

// Correlator is the slice of the correlation engine the orchestrator needs.
type Correlator interface {
	Ingest(ctx context.Context, f *findings.Finding) (*vulns.Vulnerability, error)
}

// Service is the scan orchestrator: it owns the Scan/ToolJob state
// machines, dispatches tool jobs onto the worker pool, polls running jobs
// and aggregates completion. All collaborators are passed in explicitly;
// there is no ambient process-wide state.
type Service struct {
	Scans     domain.Repository
	Jobs      domain.JobRepository
	Errors    scanerrors.Repository
	Artifacts domain.ArtifactStore
	Clients   ClientFactory
	Correlate Correlator
	Clock     app.Clock
	Logger    *slog.Logger

	Workers       int
	ClaimInterval time.Duration
	PollInterval  time.Duration
	JobTimeout    time.Duration

	mu      sync.Mutex
	cancels map[domain.JobID]context.CancelFunc
}

func NewService(scanRepo domain.Repository, jobRepo domain.JobRepository, errRepo scanerrors.Repository,
	artifacts domain.ArtifactStore, clients ClientFactory, correlate Correlator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Scans:         scanRepo,
		Jobs:          jobRepo,
		Errors:        errRepo,
		Artifacts:     artifacts,
		Clients:       clients,
		Correlate:     correlate,
		Clock:         app.SystemClock{},
		Logger:        logger,
		Workers:       4,
		ClaimInterval: 2 * time.Second,
		PollInterval:  5 * time.Second,
		JobTimeout:    2 * time.Hour,
		cancels:       make(map[domain.JobID]context.CancelFunc),
	}
}

//
// ==== USE CASES ====
//

type TriggerScanCommand struct {
	TenantID string
	Targets  []string
	Tools    []string
	Source   string
	Metadata any
}

// TriggerScan creates the Scan with one ToolJob per requested tool and
// queues them for the dispatcher. Execution happens on the worker pool,
// never in the caller's request.
func (s *Service) TriggerScan(ctx context.Context, cmd TriggerScanCommand) (*domain.Scan, error) {
	if len(cmd.Targets) == 0 {
		return nil, fmt.Errorf("at least one target is required")
	}
	if len(cmd.Tools) == 0 {
		return nil, fmt.Errorf("at least one tool is required")
	}
	seen := make(map[domain.Tool]bool)
	var tools []domain.Tool
	for _, t := range cmd.Tools {
		tool := domain.Tool(t)
		if !domain.ValidTool(tool) {
			return nil, fmt.Errorf("unknown tool: %s", t)
		}
		if !seen[tool] {
			seen[tool] = true
			tools = append(tools, tool)
		}
	}

	now := s.Clock.Now()
	scan := &domain.Scan{
		ID:          domain.ScanID(uuid.NewString()),
		TenantID:    cmd.TenantID,
		Targets:     cmd.Targets,
		Tools:       tools,
		Status:      domain.StatusPending,
		RequestedAt: now,
		Source:      cmd.Source,
		Metadata:    cmd.Metadata,
	}
	if err := s.Scans.Save(ctx, scan); err != nil {
		return nil, err
	}

	for _, tool := range tools {
		job := &domain.ToolJob{
			ID:       domain.JobID(uuid.NewString()),
			ScanID:   scan.ID,
			TenantID: cmd.TenantID,
			Tool:     tool,
			Status:   domain.JobPending,
		}
		if err := s.Jobs.Save(ctx, job); err != nil {
			return nil, err
		}
	}

	if err := s.Scans.UpdateStatus(ctx, cmd.TenantID, scan.ID, domain.StatusQueued); err != nil {
		return nil, err
	}
	scan.Status = domain.StatusQueued
	return scan, nil
}

// CancelScan requests cooperative cancellation of every non-terminal
// ToolJob. Jobs that already succeeded keep their results.
func (s *Service) CancelScan(ctx context.Context, tenant string, id domain.ScanID) error {
	scan, err := s.Scans.Get(ctx, tenant, id)
	if err != nil {
		return err
	}
	if scan.Status.Terminal() {
		return nil
	}
	if err := s.Scans.MarkCancelRequested(ctx, tenant, id); err != nil {
		return err
	}

	jobs, err := s.Jobs.ListByScan(ctx, id)
	if err != nil {
		return err
	}
	now := s.Clock.Now()
	for _, job := range jobs {
		switch job.Status {
		case domain.JobPending:
			job.Status = domain.JobCancelled
			job.FinishedAt = &now
			if err := s.Jobs.Update(ctx, job); err != nil {
				s.Logger.ErrorContext(ctx, "marking pending job cancelled", slog.String("job_id", string(job.ID)), slog.String("error", err.Error()))
			}
		case domain.JobRunning:
			if cancel := s.cancelFor(job.ID); cancel != nil {
				// worker in this process, its monitor loop handles the rest
				cancel()
			} else if job.Handle != "" {
				// job owned by a crashed/other instance: remote best effort
				if client, cerr := s.Clients(job.Tool); cerr == nil {
					_ = client.Cancel(ctx, job.Handle)
				}
			}
		}
	}
	return s.finalizeScan(ctx, tenant, id)
}

// Run drives the dispatcher until ctx is done: resume jobs left running by
// a previous process, then keep claiming queued jobs onto the worker pool.
func (s *Service) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.Workers)

	if running, err := s.Jobs.ListRunning(ctx); err != nil {
		s.Logger.ErrorContext(ctx, "loading running jobs for resume", slog.String("error", err.Error()))
	} else {
		for _, job := range running {
			g.Go(func() error { s.executeJob(gctx, job); return nil })
		}
	}

	ticker := time.NewTicker(s.ClaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = g.Wait()
			return ctx.Err()
		case <-ticker.C:
		}
		jobs, err := s.Jobs.ClaimQueued(ctx, s.Workers)
		if err != nil {
			s.Logger.ErrorContext(ctx, "claiming jobs", slog.String("error", err.Error()))
			continue
		}
		for _, job := range jobs {
			g.Go(func() error { s.executeJob(gctx, job); return nil })
		}
	}
}

//
// ==== JOB EXECUTION ====
//

func (s *Service) executeJob(ctx context.Context, job *domain.ToolJob) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.trackCancel(job.ID, cancel)
	defer s.untrackCancel(job.ID)

	jobCtx = logx.ContextAttrs(jobCtx,
		slog.String("scan_id", string(job.ScanID)),
		slog.String("job_id", string(job.ID)),
		slog.String("tool", string(job.Tool)))

	// finalization must run even when the job context is already gone
	defer func() {
		if err := s.finalizeScan(context.WithoutCancel(jobCtx), job.TenantID, job.ScanID); err != nil {
			s.Logger.Error("finalizing scan", slog.String("scan_id", string(job.ScanID)), slog.String("error", err.Error()))
		}
	}()

	scan, err := s.Scans.Get(jobCtx, job.TenantID, job.ScanID)
	if err != nil {
		s.failJob(jobCtx, job, "launch", fmt.Errorf("loading scan: %w", err))
		return
	}
	if scan.CancelRequested {
		s.markCancelled(jobCtx, job)
		return
	}
	if !scan.Status.Terminal() && scan.Status != domain.StatusRunning {
		if err := s.Scans.UpdateStatus(jobCtx, job.TenantID, job.ScanID, domain.StatusRunning); err != nil {
			s.Logger.ErrorContext(jobCtx, "marking scan running", slog.String("error", err.Error()))
		}
	}

	client, err := s.Clients(job.Tool)
	if err != nil {
		s.failJob(jobCtx, job, "launch", err)
		return
	}

	if job.Handle == "" {
		if err := client.Connect(jobCtx); err != nil {
			s.failJob(jobCtx, job, "connect", err)
			return
		}
		handle, meta, err := client.Launch(jobCtx, scan.Targets, nil)
		if err != nil {
			s.failJob(jobCtx, job, "launch", err)
			return
		}
		job.Handle = handle
		for k, v := range meta {
			job.SetMeta(k, v)
		}
		now := s.Clock.Now()
		job.StartedAt = &now
		if err := s.Jobs.Update(jobCtx, job); err != nil {
			s.Logger.ErrorContext(jobCtx, "persisting job handle", slog.String("error", err.Error()))
		}
		s.Logger.InfoContext(jobCtx, "tool job launched", slog.String("handle", handle))
	}

	s.monitor(jobCtx, client, job)
}

// monitor polls the tool until the job reaches a terminal state, the
// per-job timeout fires, or cancellation is requested.
func (s *Service) monitor(ctx context.Context, client integration.Client, job *domain.ToolJob) {
	started := s.Clock.Now()
	if job.StartedAt != nil {
		started = *job.StartedAt
	}
	deadline := started.Add(s.JobTimeout)

	ticker := time.NewTicker(s.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// the job context dies both on CancelScan and on dispatcher
			// shutdown; only the former may cancel the job. On shutdown
			// the row stays running so the next process resumes it.
			bg := context.WithoutCancel(ctx)
			scan, err := s.Scans.Get(bg, job.TenantID, job.ScanID)
			if err != nil {
				s.Logger.ErrorContext(bg, "loading scan on job interrupt", slog.String("error", err.Error()))
				return
			}
			if scan.CancelRequested {
				_ = client.Cancel(bg, job.Handle)
				s.markCancelled(bg, job)
			}
			return
		case <-ticker.C:
		}
		if s.Clock.Now().After(deadline) {
			_ = client.Cancel(ctx, job.Handle)
			s.failJob(ctx, job, "poll", fmt.Errorf("%w: job exceeded %s", integration.ErrTimeout, s.JobTimeout))
			return
		}
		state, err := client.Poll(ctx, job.Handle)
		if err != nil {
			s.failJob(ctx, job, "poll", err)
			return
		}
		switch state {
		case integration.JobStateCompleted:
			s.collect(ctx, client, job)
			return
		case integration.JobStateFailed:
			s.failJob(ctx, job, "poll", fmt.Errorf("tool reported job failure"))
			return
		}
	}
}

// collect fetches the raw report, archives it, parses it and streams the
// findings into the correlation engine in report order. A partial parse
// still succeeds as long as at least one finding was recovered.
func (s *Service) collect(ctx context.Context, client integration.Client, job *domain.ToolJob) {
	raw, err := client.FetchResults(ctx, job.Handle)
	if err != nil {
		s.failJob(ctx, job, "fetch", err)
		return
	}

	// parsing and persistence always complete on already-fetched bytes,
	// even when a cancel arrives now
	ctx = context.WithoutCancel(ctx)

	if s.Artifacts != nil && len(raw) > 0 {
		key := fmt.Sprintf("%s/%s/%s", job.TenantID, job.Tool, job.ScanID)
		if url, aerr := s.Artifacts.Put(ctx, key, raw, contentTypeFor(job.Tool)); aerr != nil {
			s.Logger.WarnContext(ctx, "archiving raw report failed", slog.String("error", aerr.Error()))
		} else {
			job.ArtifactURL = url
		}
	}

	parser, err := parsers.ForTool(job.Tool)
	if err != nil {
		s.failJob(ctx, job, "parse", err)
		return
	}
	fs, parseErr := parser.Parse(raw)

	emitted := 0
	for i := range fs {
		f := &fs[i]
		f.TenantID = job.TenantID
		f.ScanID = string(job.ScanID)
		f.JobID = string(job.ID)
		if f.DetectedAt.IsZero() {
			f.DetectedAt = s.Clock.Now()
		}
		if _, cerr := s.Correlate.Ingest(ctx, f); cerr != nil {
			// correlation problems are recorded, they never fail the job
			var conflict *correlation.ConflictError
			phase := "correlate"
			if errors.As(cerr, &conflict) {
				phase = "correlate-conflict"
			}
			s.recordError(ctx, job, phase, cerr)
			continue
		}
		emitted++
	}

	if parseErr != nil {
		if emitted == 0 && len(fs) == 0 {
			s.failJob(ctx, job, "parse", parseErr)
			return
		}
		job.Warning = parseErr.Error()
		s.recordError(ctx, job, "parse", parseErr)
	}

	now := s.Clock.Now()
	job.Status = domain.JobSucceeded
	job.FinishedAt = &now
	job.LastError = ""
	if err := s.Jobs.Update(ctx, job); err != nil {
		s.Logger.ErrorContext(ctx, "persisting job success", slog.String("error", err.Error()))
	}
	s.Logger.InfoContext(ctx, "tool job succeeded", slog.Int("findings", emitted))
}

// finalizeScan aggregates job states from one consistent read and marks
// the scan terminal when every job is.
func (s *Service) finalizeScan(ctx context.Context, tenant string, id domain.ScanID) error {
	scan, err := s.Scans.Get(ctx, tenant, id)
	if err != nil {
		return err
	}
	if scan.Status.Terminal() {
		return nil
	}
	jobs, err := s.Jobs.ListByScan(ctx, id)
	if err != nil {
		return err
	}
	status, done := domain.Aggregate(jobs, scan.CancelRequested)
	if !done {
		return nil
	}
	s.Logger.InfoContext(ctx, "scan finished",
		slog.String("scan_id", string(id)), slog.String("status", string(status)))
	return s.Scans.MarkFinished(ctx, tenant, id, status, s.Clock.Now())
}

//
// ==== QUERIES ====
//

func (s *Service) Get(ctx context.Context, tenant string, id domain.ScanID) (*domain.Scan, error) {
	return s.Scans.Get(ctx, tenant, id)
}

func (s *Service) ListJobs(ctx context.Context, id domain.ScanID) ([]*domain.ToolJob, error) {
	return s.Jobs.ListByScan(ctx, id)
}

func (s *Service) Latest(ctx context.Context, tenant string, limit int) ([]*domain.Scan, error) {
	return s.Scans.Latest(ctx, tenant, limit)
}

func (s *Service) Paginate(ctx context.Context, tenant string, page, pageSize int) (domain.PaginatedResult, error) {
	return s.Scans.Paginate(ctx, tenant, page, pageSize)
}

func (s *Service) Summary(ctx context.Context, tenant string, sinceDays int) (map[domain.Status]int, error) {
	return s.Scans.Summary(ctx, tenant, sinceDays)
}

func (s *Service) ErrorsByScan(ctx context.Context, tenant string, id domain.ScanID, limit int) ([]*scanerrors.ScanError, error) {
	return s.Errors.ListByScan(ctx, tenant, string(id), limit)
}

//
// ==== HELPERS ====
//

func (s *Service) failJob(ctx context.Context, job *domain.ToolJob, phase string, err error) {
	now := s.Clock.Now()
	job.Status = domain.JobFailed
	job.FinishedAt = &now
	job.LastError = err.Error()
	if uerr := s.Jobs.Update(context.WithoutCancel(ctx), job); uerr != nil {
		s.Logger.ErrorContext(ctx, "persisting job failure", slog.String("error", uerr.Error()))
	}
	s.recordError(ctx, job, phase, err)
	s.Logger.WarnContext(ctx, "tool job failed",
		slog.String("phase", phase), slog.String("error", err.Error()))
}

func (s *Service) markCancelled(ctx context.Context, job *domain.ToolJob) {
	now := s.Clock.Now()
	job.Status = domain.JobCancelled
	job.FinishedAt = &now
	if err := s.Jobs.Update(ctx, job); err != nil {
		s.Logger.ErrorContext(ctx, "persisting job cancellation", slog.String("error", err.Error()))
	}
	s.Logger.InfoContext(ctx, "tool job cancelled")
}

func (s *Service) recordError(ctx context.Context, job *domain.ToolJob, phase string, err error) {
	if s.Errors == nil {
		return
	}
	e := &scanerrors.ScanError{
		TenantID:  job.TenantID,
		ScanID:    string(job.ScanID),
		JobID:     string(job.ID),
		Tool:      string(job.Tool),
		Phase:     phase,
		Message:   err.Error(),
		CreatedAt: s.Clock.Now(),
	}
	if serr := s.Errors.Save(context.WithoutCancel(ctx), e); serr != nil {
		s.Logger.ErrorContext(ctx, "persisting scan error", slog.String("error", serr.Error()))
	}
}

func (s *Service) trackCancel(id domain.JobID, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels[id] = cancel
}

func (s *Service) untrackCancel(id domain.JobID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cancels, id)
}

func (s *Service) cancelFor(id domain.JobID) context.CancelFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancels[id]
}

func contentTypeFor(tool domain.Tool) string {
	switch tool {
	case domain.ToolNmap, domain.ToolGVM:
		return "application/xml"
	default:
		return "application/json"
	}
}
