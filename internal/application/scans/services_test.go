package scans

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ramjavii/nestsecure/internal/application/correlation"
	"github.com/ramjavii/nestsecure/internal/domain/findings"
	"github.com/ramjavii/nestsecure/internal/domain/scanerrors"
	domain "github.com/ramjavii/nestsecure/internal/domain/scans"
	"github.com/ramjavii/nestsecure/internal/domain/vulns"
	"github.com/ramjavii/nestsecure/internal/integration"
)

//
// ==== FAKES ====
//

type memScanRepo struct {
	mu    sync.Mutex
	items map[domain.ScanID]*domain.Scan
}

func newMemScanRepo() *memScanRepo {
	return &memScanRepo{items: make(map[domain.ScanID]*domain.Scan)}
}

func (r *memScanRepo) Save(_ context.Context, s *domain.Scan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.items[s.ID] = &cp
	return nil
}

func (r *memScanRepo) Get(_ context.Context, tenant string, id domain.ScanID) (*domain.Scan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.items[id]
	if !ok || s.TenantID != tenant {
		return nil, fmt.Errorf("scan not found: %s", id)
	}
	cp := *s
	return &cp, nil
}

func (r *memScanRepo) Latest(_ context.Context, tenant string, limit int) ([]*domain.Scan, error) {
	return nil, nil
}

func (r *memScanRepo) UpdateStatus(_ context.Context, tenant string, id domain.ScanID, status domain.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.items[id]; ok {
		s.Status = status
	}
	return nil
}

func (r *memScanRepo) MarkCancelRequested(_ context.Context, tenant string, id domain.ScanID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.items[id]; ok {
		s.CancelRequested = true
	}
	return nil
}

func (r *memScanRepo) MarkFinished(_ context.Context, tenant string, id domain.ScanID, status domain.Status, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.items[id]
	if !ok || s.Status.Terminal() {
		return nil
	}
	s.Status = status
	s.FinishedAt = &at
	return nil
}

func (r *memScanRepo) Paginate(context.Context, string, int, int) (domain.PaginatedResult, error) {
	return domain.PaginatedResult{}, nil
}

func (r *memScanRepo) Summary(context.Context, string, int) (map[domain.Status]int, error) {
	return nil, nil
}

func (r *memScanRepo) status(id domain.ScanID) domain.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.items[id].Status
}

type memJobRepo struct {
	mu    sync.Mutex
	items map[domain.JobID]*domain.ToolJob
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{items: make(map[domain.JobID]*domain.ToolJob)}
}

func (r *memJobRepo) Save(_ context.Context, j *domain.ToolJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *j
	r.items[j.ID] = &cp
	return nil
}

func (r *memJobRepo) Get(_ context.Context, id domain.JobID) (*domain.ToolJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.items[id]
	if !ok {
		return nil, fmt.Errorf("job not found: %s", id)
	}
	cp := *j
	return &cp, nil
}

func (r *memJobRepo) ListByScan(_ context.Context, scanID domain.ScanID) ([]*domain.ToolJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.ToolJob
	for _, j := range r.items {
		if j.ScanID == scanID {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memJobRepo) Update(_ context.Context, j *domain.ToolJob) error {
	return r.Save(context.Background(), j)
}

func (r *memJobRepo) ClaimQueued(_ context.Context, limit int) ([]*domain.ToolJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.ToolJob
	for _, j := range r.items {
		if j.Status == domain.JobPending && len(out) < limit {
			j.Status = domain.JobRunning
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memJobRepo) ListRunning(context.Context) ([]*domain.ToolJob, error) {
	return nil, nil
}

func (r *memJobRepo) byTool(scanID domain.ScanID, tool domain.Tool) *domain.ToolJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.items {
		if j.ScanID == scanID && j.Tool == tool {
			cp := *j
			return &cp
		}
	}
	return nil
}

type memErrRepo struct {
	mu    sync.Mutex
	items []*scanerrors.ScanError
}

func (r *memErrRepo) Save(_ context.Context, e *scanerrors.ScanError) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.items = append(r.items, &cp)
	return nil
}

func (r *memErrRepo) ListByScan(_ context.Context, tenant, scanID string, limit int) ([]*scanerrors.ScanError, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*scanerrors.ScanError
	for _, e := range r.items {
		if e.TenantID == tenant && e.ScanID == scanID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memErrRepo) phases() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.items {
		out = append(out, e.Phase)
	}
	return out
}

type memArtifacts struct {
	mu   sync.Mutex
	keys []string
}

func (a *memArtifacts) Put(_ context.Context, key string, data []byte, contentType string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys = append(a.keys, key)
	return "http://minio/reports/" + key, nil
}

type fakeCorrelator struct {
	mu       sync.Mutex
	ingested []findings.Finding
	fail     func(f *findings.Finding) error
}

func (c *fakeCorrelator) Ingest(_ context.Context, f *findings.Finding) (*vulns.Vulnerability, error) {
	if c.fail != nil {
		if err := c.fail(f); err != nil {
			return nil, err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ingested = append(c.ingested, *f)
	return &vulns.Vulnerability{ID: "v", TenantID: f.TenantID, Host: f.Host}, nil
}

// fakeClient walks a scripted poll sequence; the last state repeats.
type fakeClient struct {
	tool domain.Tool

	connectErr error
	launchErr  error
	pollStates []integration.JobState
	pollErr    error
	results    []byte
	fetchErr   error

	mu           sync.Mutex
	connectCalls int
	launchCalls  int
	pollCalls    int
	cancelled    []string
}

func (c *fakeClient) Tool() domain.Tool { return c.tool }
func (c *fakeClient) Endpoint() string  { return "fake" }
func (c *fakeClient) Capabilities() integration.Capabilities {
	return integration.Capabilities{RemoteCancel: true}
}

func (c *fakeClient) Connect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectCalls++
	return c.connectErr
}

func (c *fakeClient) Launch(context.Context, []string, map[string]string) (string, map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.launchCalls++
	if c.launchErr != nil {
		return "", nil, c.launchErr
	}
	return "handle-" + string(c.tool), map[string]string{"task_id": "t1"}, nil
}

func (c *fakeClient) Poll(context.Context, string) (integration.JobState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pollErr != nil {
		return "", c.pollErr
	}
	i := c.pollCalls
	c.pollCalls++
	if i >= len(c.pollStates) {
		i = len(c.pollStates) - 1
	}
	return c.pollStates[i], nil
}

func (c *fakeClient) FetchResults(context.Context, string) ([]byte, error) {
	return c.results, c.fetchErr
}

func (c *fakeClient) Cancel(_ context.Context, handle string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = append(c.cancelled, handle)
	return nil
}

//
// ==== HARNESS ====
//

type harness struct {
	svc       *Service
	scans     *memScanRepo
	jobs      *memJobRepo
	errs      *memErrRepo
	artifacts *memArtifacts
	correlate *fakeCorrelator
	clients   map[domain.Tool]integration.Client
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		scans:     newMemScanRepo(),
		jobs:      newMemJobRepo(),
		errs:      &memErrRepo{},
		artifacts: &memArtifacts{},
		correlate: &fakeCorrelator{},
		clients:   make(map[domain.Tool]integration.Client),
	}
	factory := func(tool domain.Tool) (integration.Client, error) {
		c, ok := h.clients[tool]
		if !ok {
			return nil, fmt.Errorf("no client for tool: %s", tool)
		}
		return c, nil
	}
	h.svc = NewService(h.scans, h.jobs, h.errs, h.artifacts, factory, h.correlate, nil)
	h.svc.PollInterval = time.Millisecond
	h.svc.ClaimInterval = time.Millisecond
	return h
}

func (h *harness) trigger(t *testing.T, tools ...string) *domain.Scan {
	t.Helper()
	scan, err := h.svc.TriggerScan(context.Background(), TriggerScanCommand{
		TenantID: "acme",
		Targets:  []string{"10.0.0.5"},
		Tools:    tools,
		Source:   "api",
	})
	require.NoError(t, err)
	return scan
}

// runJob claims and executes the scan's job for one tool synchronously.
func (h *harness) runJob(t *testing.T, scanID domain.ScanID, tool domain.Tool) {
	t.Helper()
	job := h.jobs.byTool(scanID, tool)
	require.NotNil(t, job)
	job.Status = domain.JobRunning
	require.NoError(t, h.jobs.Update(context.Background(), job))
	h.svc.executeJob(context.Background(), job)
}

const nucleiTwoLines = `{"template-id":"a","info":{"name":"A","severity":"high"},"host":"https://10.0.0.5"}
{"template-id":"b","info":{"name":"B","severity":"low"},"host":"https://10.0.0.5"}
`

//
// ==== TESTS ====
//

func TestTriggerScanValidation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.TriggerScan(ctx, TriggerScanCommand{TenantID: "acme", Tools: []string{"nmap"}})
	require.ErrorContains(t, err, "target")

	_, err = h.svc.TriggerScan(ctx, TriggerScanCommand{TenantID: "acme", Targets: []string{"10.0.0.5"}})
	require.ErrorContains(t, err, "tool")

	_, err = h.svc.TriggerScan(ctx, TriggerScanCommand{TenantID: "acme", Targets: []string{"10.0.0.5"}, Tools: []string{"nessus"}})
	require.ErrorContains(t, err, "unknown tool")
}

func TestTriggerScanQueuesDedupedJobs(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	scan := h.trigger(t, "nmap", "nuclei", "nmap")
	require.Equal(t, domain.StatusQueued, scan.Status)
	require.Equal(t, []domain.Tool{domain.ToolNmap, domain.ToolNuclei}, scan.Tools)

	jobs, err := h.jobs.ListByScan(context.Background(), scan.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 2, "duplicate tool entries collapse to one job")
	for _, j := range jobs {
		require.Equal(t, domain.JobPending, j.Status)
	}
}

func TestExecuteJobHappyPath(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.clients[domain.ToolNuclei] = &fakeClient{
		tool:       domain.ToolNuclei,
		pollStates: []integration.JobState{integration.JobStateRunning, integration.JobStateCompleted},
		results:    []byte(nucleiTwoLines),
	}

	scan := h.trigger(t, "nuclei")
	h.runJob(t, scan.ID, domain.ToolNuclei)

	job := h.jobs.byTool(scan.ID, domain.ToolNuclei)
	require.Equal(t, domain.JobSucceeded, job.Status)
	require.Empty(t, job.LastError)
	require.Equal(t, "handle-nuclei", job.Handle)
	require.Equal(t, "t1", job.Meta["task_id"])
	require.NotNil(t, job.FinishedAt)
	require.Contains(t, job.ArtifactURL, "acme/nuclei/"+string(scan.ID))

	require.Equal(t, domain.StatusCompleted, h.scans.status(scan.ID))
	require.Equal(t, []string{"acme/nuclei/" + string(scan.ID)}, h.artifacts.keys)

	require.Len(t, h.correlate.ingested, 2)
	f := h.correlate.ingested[0]
	require.Equal(t, "acme", f.TenantID, "orchestrator stamps tenant before correlation")
	require.Equal(t, string(scan.ID), f.ScanID)
	require.Equal(t, string(job.ID), f.JobID)
	require.False(t, f.DetectedAt.IsZero())
}

func TestScanPartialWhenSomeJobsFail(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.clients[domain.ToolNuclei] = &fakeClient{
		tool:       domain.ToolNuclei,
		pollStates: []integration.JobState{integration.JobStateCompleted},
		results:    []byte(nucleiTwoLines),
	}
	h.clients[domain.ToolZAP] = &fakeClient{
		tool:       domain.ToolZAP,
		pollStates: []integration.JobState{integration.JobStateCompleted},
		results:    []byte(`{"alerts":[{"alert":"XSS","risk":"High","url":"https://10.0.0.5/"}]}`),
	}
	h.clients[domain.ToolGVM] = &fakeClient{
		tool:       domain.ToolGVM,
		launchErr:  errors.New("gmp authentication failed"),
		pollStates: []integration.JobState{integration.JobStateRunning},
	}

	scan := h.trigger(t, "nuclei", "zap", "gvm")
	h.runJob(t, scan.ID, domain.ToolNuclei)
	require.Equal(t, domain.StatusRunning, h.scans.status(scan.ID), "scan stays running until every job is terminal")
	h.runJob(t, scan.ID, domain.ToolZAP)
	h.runJob(t, scan.ID, domain.ToolGVM)

	require.Equal(t, domain.StatusPartial, h.scans.status(scan.ID))
	require.Equal(t, domain.JobFailed, h.jobs.byTool(scan.ID, domain.ToolGVM).Status)
	require.Contains(t, h.jobs.byTool(scan.ID, domain.ToolGVM).LastError, "gmp authentication failed")
	require.Contains(t, h.errs.phases(), "launch")
	require.Len(t, h.correlate.ingested, 3, "successful jobs keep their findings")
}

func TestScanFailedWhenAllJobsFail(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.clients[domain.ToolNmap] = &fakeClient{tool: domain.ToolNmap, connectErr: errors.New("binary not found")}
	h.clients[domain.ToolNuclei] = &fakeClient{
		tool:       domain.ToolNuclei,
		pollStates: []integration.JobState{integration.JobStateFailed},
	}

	scan := h.trigger(t, "nmap", "nuclei")
	h.runJob(t, scan.ID, domain.ToolNmap)
	h.runJob(t, scan.ID, domain.ToolNuclei)

	require.Equal(t, domain.StatusFailed, h.scans.status(scan.ID))
	require.Contains(t, h.errs.phases(), "connect")
	require.Contains(t, h.errs.phases(), "poll")
}

func TestTruncatedReportSucceedsWithWarning(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	truncated := `{"template-id":"a","info":{"name":"A","severity":"high"},"host":"https://10.0.0.5"}
{"template-id":"b","info":{"na`
	h.clients[domain.ToolNuclei] = &fakeClient{
		tool:       domain.ToolNuclei,
		pollStates: []integration.JobState{integration.JobStateCompleted},
		results:    []byte(truncated),
	}

	scan := h.trigger(t, "nuclei")
	h.runJob(t, scan.ID, domain.ToolNuclei)

	job := h.jobs.byTool(scan.ID, domain.ToolNuclei)
	require.Equal(t, domain.JobSucceeded, job.Status, "partial results beat failing the job")
	require.Contains(t, job.Warning, "malformed JSON on line 2")
	require.Equal(t, domain.StatusCompleted, h.scans.status(scan.ID))
	require.Len(t, h.correlate.ingested, 1)
	require.Contains(t, h.errs.phases(), "parse")
}

func TestUnparsableReportFailsJob(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.clients[domain.ToolNuclei] = &fakeClient{
		tool:       domain.ToolNuclei,
		pollStates: []integration.JobState{integration.JobStateCompleted},
		results:    []byte(`%%% not json at all`),
	}

	scan := h.trigger(t, "nuclei")
	h.runJob(t, scan.ID, domain.ToolNuclei)

	job := h.jobs.byTool(scan.ID, domain.ToolNuclei)
	require.Equal(t, domain.JobFailed, job.Status, "zero recovered findings means failure")
	require.Equal(t, domain.StatusFailed, h.scans.status(scan.ID))
}

func TestCorrelationConflictDoesNotFailJob(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.correlate.fail = func(f *findings.Finding) error {
		if f.Title == "A" {
			return &correlation.ConflictError{Host: f.Host, Title: f.Title}
		}
		return nil
	}
	h.clients[domain.ToolNuclei] = &fakeClient{
		tool:       domain.ToolNuclei,
		pollStates: []integration.JobState{integration.JobStateCompleted},
		results:    []byte(nucleiTwoLines),
	}

	scan := h.trigger(t, "nuclei")
	h.runJob(t, scan.ID, domain.ToolNuclei)

	require.Equal(t, domain.JobSucceeded, h.jobs.byTool(scan.ID, domain.ToolNuclei).Status)
	require.Equal(t, domain.StatusCompleted, h.scans.status(scan.ID))
	require.Len(t, h.correlate.ingested, 1, "the conflicting finding is skipped, the rest go through")
	require.Contains(t, h.errs.phases(), "correlate-conflict")
}

func TestCancelScanFlipsPendingJobs(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	scan := h.trigger(t, "nmap", "nuclei")
	require.NoError(t, h.svc.CancelScan(context.Background(), "acme", scan.ID))

	for _, tool := range []domain.Tool{domain.ToolNmap, domain.ToolNuclei} {
		job := h.jobs.byTool(scan.ID, tool)
		require.Equal(t, domain.JobCancelled, job.Status)
		require.NotNil(t, job.FinishedAt)
	}
	require.Equal(t, domain.StatusCancelled, h.scans.status(scan.ID))
}

func TestCancelScanStopsRunningJob(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	client := &fakeClient{
		tool:       domain.ToolGVM,
		pollStates: []integration.JobState{integration.JobStateRunning},
	}
	h.clients[domain.ToolGVM] = client

	scan := h.trigger(t, "gvm")
	job := h.jobs.byTool(scan.ID, domain.ToolGVM)
	job.Status = domain.JobRunning
	require.NoError(t, h.jobs.Update(context.Background(), job))

	done := make(chan struct{})
	go func() {
		h.svc.executeJob(context.Background(), job)
		close(done)
	}()

	// wait for the job to launch before cancelling
	require.Eventually(t, func() bool {
		return h.jobs.byTool(scan.ID, domain.ToolGVM).Handle != ""
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, h.svc.CancelScan(context.Background(), "acme", scan.ID))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled job did not stop")
	}

	require.Equal(t, domain.JobCancelled, h.jobs.byTool(scan.ID, domain.ToolGVM).Status)
	require.Equal(t, domain.StatusCancelled, h.scans.status(scan.ID))
	client.mu.Lock()
	defer client.mu.Unlock()
	require.NotEmpty(t, client.cancelled, "the tool-side job is cancelled too")
}

func TestDispatcherShutdownLeavesRunningJobForResume(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	client := &fakeClient{
		tool:       domain.ToolGVM,
		pollStates: []integration.JobState{integration.JobStateRunning},
	}
	h.clients[domain.ToolGVM] = client

	scan := h.trigger(t, "gvm")
	job := h.jobs.byTool(scan.ID, domain.ToolGVM)
	job.Status = domain.JobRunning
	require.NoError(t, h.jobs.Update(context.Background(), job))

	ctx, shutdown := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.svc.executeJob(ctx, job)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return h.jobs.byTool(scan.ID, domain.ToolGVM).Handle != ""
	}, 5*time.Second, time.Millisecond)

	// stop the dispatcher without any cancel request
	shutdown()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop on shutdown")
	}

	got := h.jobs.byTool(scan.ID, domain.ToolGVM)
	require.Equal(t, domain.JobRunning, got.Status, "an interrupted job stays running so a restart can resume it")
	require.Equal(t, domain.StatusRunning, h.scans.status(scan.ID), "shutdown must not flip the scan terminal")
	client.mu.Lock()
	defer client.mu.Unlock()
	require.Empty(t, client.cancelled, "shutdown must not cancel the tool-side job")
}

func TestCancelAfterPartialSuccessKeepsResults(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.clients[domain.ToolNuclei] = &fakeClient{
		tool:       domain.ToolNuclei,
		pollStates: []integration.JobState{integration.JobStateCompleted},
		results:    []byte(nucleiTwoLines),
	}

	scan := h.trigger(t, "nuclei", "zap")
	h.runJob(t, scan.ID, domain.ToolNuclei)
	require.NoError(t, h.svc.CancelScan(context.Background(), "acme", scan.ID))

	require.Equal(t, domain.JobSucceeded, h.jobs.byTool(scan.ID, domain.ToolNuclei).Status)
	require.Equal(t, domain.StatusPartial, h.scans.status(scan.ID), "partial results beat hiding data")
	require.Len(t, h.correlate.ingested, 2)
}

func TestResumeSkipsLaunchWhenHandlePersisted(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	client := &fakeClient{
		tool:       domain.ToolGVM,
		connectErr: errors.New("must not reconnect on resume"),
		pollStates: []integration.JobState{integration.JobStateCompleted},
		results:    []byte(`<results></results>`),
	}
	h.clients[domain.ToolGVM] = client

	scan := h.trigger(t, "gvm")
	job := h.jobs.byTool(scan.ID, domain.ToolGVM)
	job.Status = domain.JobRunning
	job.Handle = "task-from-before-restart"
	started := time.Now().Add(-time.Minute)
	job.StartedAt = &started
	require.NoError(t, h.jobs.Update(context.Background(), job))

	h.svc.executeJob(context.Background(), job)

	require.Equal(t, 0, client.connectCalls)
	require.Equal(t, 0, client.launchCalls)
	require.Equal(t, domain.JobSucceeded, h.jobs.byTool(scan.ID, domain.ToolGVM).Status)
}

func TestJobTimeoutFailsJob(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.svc.JobTimeout = time.Millisecond
	client := &fakeClient{
		tool:       domain.ToolZAP,
		pollStates: []integration.JobState{integration.JobStateRunning},
	}
	h.clients[domain.ToolZAP] = client

	scan := h.trigger(t, "zap")
	job := h.jobs.byTool(scan.ID, domain.ToolZAP)
	job.Status = domain.JobRunning
	job.Handle = "zap-1"
	started := time.Now().Add(-time.Hour)
	job.StartedAt = &started
	require.NoError(t, h.jobs.Update(context.Background(), job))

	h.svc.executeJob(context.Background(), job)

	got := h.jobs.byTool(scan.ID, domain.ToolZAP)
	require.Equal(t, domain.JobFailed, got.Status)
	require.Contains(t, got.LastError, "timeout: job exceeded")
	require.Equal(t, domain.StatusFailed, h.scans.status(scan.ID))
	client.mu.Lock()
	defer client.mu.Unlock()
	require.NotEmpty(t, client.cancelled)
}

func TestFinalizeIsIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.clients[domain.ToolNuclei] = &fakeClient{
		tool:       domain.ToolNuclei,
		pollStates: []integration.JobState{integration.JobStateCompleted},
		results:    []byte(nucleiTwoLines),
	}

	scan := h.trigger(t, "nuclei")
	h.runJob(t, scan.ID, domain.ToolNuclei)
	require.Equal(t, domain.StatusCompleted, h.scans.status(scan.ID))
	first := h.scans.items[scan.ID].FinishedAt

	require.NoError(t, h.svc.finalizeScan(context.Background(), "acme", scan.ID))
	require.Equal(t, domain.StatusCompleted, h.scans.status(scan.ID))
	require.Equal(t, first, h.scans.items[scan.ID].FinishedAt, "a terminal scan is never re-finalized")
}
