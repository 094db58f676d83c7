package httpserver

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	appai "github.com/ramjavii/nestsecure/internal/application/ai"
	"github.com/ramjavii/nestsecure/internal/application/correlation"
	appscans "github.com/ramjavii/nestsecure/internal/application/scans"
	domai "github.com/ramjavii/nestsecure/internal/domain/ai"
	"github.com/ramjavii/nestsecure/internal/domain/assets"
	"github.com/ramjavii/nestsecure/internal/domain/findings"
	domain "github.com/ramjavii/nestsecure/internal/domain/scans"
	"github.com/ramjavii/nestsecure/internal/domain/vulns"
	"github.com/ramjavii/nestsecure/internal/middleware"
)

type Router struct {
	scansSvc  *appscans.Service
	aiSvc     *appai.Service
	correlate *correlation.Engine
	vulns     vulns.Repository
	findings  findings.Repository
	assets    assets.Repository
}

type Options struct {
	Scans       *appscans.Service
	AI          *appai.Service
	Correlation *correlation.Engine
	Vulns       vulns.Repository
	Findings    findings.Repository
	Assets      assets.Repository
	Health      map[string]middleware.HealthChecker
	Middlewares []func(http.Handler) http.Handler
}

func NewRouter(opts Options) http.Handler {
	r := &Router{
		scansSvc:  opts.Scans,
		aiSvc:     opts.AI,
		correlate: opts.Correlation,
		vulns:     opts.Vulns,
		findings:  opts.Findings,
		assets:    opts.Assets,
	}
	mux := chi.NewRouter()

	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))
	for _, m := range opts.Middlewares {
		mux.Use(m)
	}

	mux.Get("/health", middleware.HealthHandler(opts.Health))
	mux.Get("/ready", middleware.ReadinessHandler)
	mux.Get("/live", middleware.LivenessHandler)
	mux.Get("/metrics", middleware.MetricsHandler)

	mux.Route("/v1/{tenant}", func(rt chi.Router) {
		rt.Post("/scans", r.wrap(r.handleTriggerScan))
		rt.Get("/scans", r.wrap(r.handlePaginate))
		rt.Get("/scans/latest", r.wrap(r.handleLatest))
		rt.Get("/scans/{id}", r.wrap(r.handleGet))
		rt.Post("/scans/{id}/cancel", r.wrap(r.handleCancel))
		rt.Get("/scans/{id}/findings", r.wrap(r.handleFindings))
		rt.Get("/scans/{id}/errors", r.wrap(r.handleErrors))
		rt.Get("/summary", r.wrap(r.handleSummary))

		rt.Get("/vulnerabilities", r.wrap(r.handleVulns))
		rt.Patch("/vulnerabilities/{id}/status", r.wrap(r.handleVulnStatus))
		rt.Get("/assets", r.wrap(r.handleAssets))

		rt.Post("/ai/analyze", r.wrap(r.handleAIAnalyze))
		rt.Get("/ai/analyze", r.wrap(r.handleAIAnalyzeList))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

type badRequestError struct{ msg string }

func (e badRequestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return badRequestError{msg: fmt.Sprintf(format, args...)}
}

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			var br badRequestError
			switch {
			case errors.Is(err, sql.ErrNoRows):
				http.Error(w, "not found", http.StatusNotFound)
			case errors.Is(err, domai.ErrQuotaExceeded):
				http.Error(w, "ai quota exceeded", http.StatusTooManyRequests)
			case errors.As(err, &br):
				http.Error(w, br.msg, http.StatusBadRequest)
			default:
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(v)
}

func tenantParam(req *http.Request) (string, error) {
	tenant := chi.URLParam(req, "tenant")
	if err := middleware.ValidateTenantID(tenant); err != nil {
		return "", badRequest("%v", err)
	}
	return tenant, nil
}

// POST /v1/{tenant}/scans
func (r *Router) handleTriggerScan(w http.ResponseWriter, req *http.Request) error {
	tenant, err := tenantParam(req)
	if err != nil {
		return err
	}

	var body struct {
		Targets  []string `json:"targets"`
		Tools    []string `json:"tools"`
		Source   string   `json:"source"`
		Metadata any      `json:"metadata"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return badRequest("decoding request body: %v", err)
	}
	for _, t := range body.Targets {
		if err := middleware.ValidateTarget(t); err != nil {
			return badRequest("%v", err)
		}
	}

	scan, err := r.scansSvc.TriggerScan(req.Context(), appscans.TriggerScanCommand{
		TenantID: tenant,
		Targets:  body.Targets,
		Tools:    body.Tools,
		Source:   middleware.SanitizeString(body.Source),
		Metadata: body.Metadata,
	})
	if err != nil {
		return badRequest("%v", err)
	}
	middleware.IncrementScansTriggered()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	return json.NewEncoder(w).Encode(scan)
}

// GET /v1/{tenant}/scans?page=&page_size=
func (r *Router) handlePaginate(w http.ResponseWriter, req *http.Request) error {
	tenant, err := tenantParam(req)
	if err != nil {
		return err
	}
	page, _ := strconv.Atoi(req.URL.Query().Get("page"))
	size, _ := strconv.Atoi(req.URL.Query().Get("page_size"))

	result, err := r.scansSvc.Paginate(req.Context(), tenant, page, middleware.ValidateLimit(size))
	if err != nil {
		return err
	}
	return writeJSON(w, result)
}

// GET /v1/{tenant}/scans/latest?limit=20
func (r *Router) handleLatest(w http.ResponseWriter, req *http.Request) error {
	tenant, err := tenantParam(req)
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))

	list, err := r.scansSvc.Latest(req.Context(), tenant, middleware.ValidateLimit(limit))
	if err != nil {
		return err
	}
	return writeJSON(w, list)
}

// GET /v1/{tenant}/scans/{id}
func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) error {
	tenant, err := tenantParam(req)
	if err != nil {
		return err
	}
	id := domain.ScanID(chi.URLParam(req, "id"))

	scan, err := r.scansSvc.Get(req.Context(), tenant, id)
	if err != nil {
		return err
	}
	jobs, err := r.scansSvc.ListJobs(req.Context(), id)
	if err != nil {
		return err
	}
	return writeJSON(w, map[string]any{"scan": scan, "jobs": jobs})
}

// POST /v1/{tenant}/scans/{id}/cancel
func (r *Router) handleCancel(w http.ResponseWriter, req *http.Request) error {
	tenant, err := tenantParam(req)
	if err != nil {
		return err
	}
	id := domain.ScanID(chi.URLParam(req, "id"))

	if err := r.scansSvc.CancelScan(req.Context(), tenant, id); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	return json.NewEncoder(w).Encode(map[string]string{"status": "cancel requested"})
}

// GET /v1/{tenant}/scans/{id}/findings
func (r *Router) handleFindings(w http.ResponseWriter, req *http.Request) error {
	tenant, err := tenantParam(req)
	if err != nil {
		return err
	}
	id := chi.URLParam(req, "id")

	list, err := r.findings.ListByScan(req.Context(), tenant, id)
	if err != nil {
		return err
	}
	return writeJSON(w, list)
}

// GET /v1/{tenant}/scans/{id}/errors?limit=20
func (r *Router) handleErrors(w http.ResponseWriter, req *http.Request) error {
	tenant, err := tenantParam(req)
	if err != nil {
		return err
	}
	id := domain.ScanID(chi.URLParam(req, "id"))
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))

	list, err := r.scansSvc.ErrorsByScan(req.Context(), tenant, id, middleware.ValidateLimit(limit))
	if err != nil {
		return err
	}
	return writeJSON(w, list)
}

// GET /v1/{tenant}/summary?days=7
func (r *Router) handleSummary(w http.ResponseWriter, req *http.Request) error {
	tenant, err := tenantParam(req)
	if err != nil {
		return err
	}
	days, _ := strconv.Atoi(req.URL.Query().Get("days"))

	summary, err := r.scansSvc.Summary(req.Context(), tenant, middleware.ValidateDays(days))
	if err != nil {
		return err
	}
	return writeJSON(w, summary)
}

// GET /v1/{tenant}/vulnerabilities?host=&limit=
func (r *Router) handleVulns(w http.ResponseWriter, req *http.Request) error {
	tenant, err := tenantParam(req)
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	host := req.URL.Query().Get("host")

	var list []*vulns.Vulnerability
	if host != "" {
		list, err = r.vulns.ListOpenByHost(req.Context(), tenant, host)
	} else {
		list, err = r.vulns.List(req.Context(), tenant, middleware.ValidateLimit(limit))
	}
	if err != nil {
		return err
	}
	return writeJSON(w, list)
}

// PATCH /v1/{tenant}/vulnerabilities/{id}/status
// Body: {"status": "open|resolved|accepted_risk"}
func (r *Router) handleVulnStatus(w http.ResponseWriter, req *http.Request) error {
	tenant, err := tenantParam(req)
	if err != nil {
		return err
	}
	id := vulns.VulnID(chi.URLParam(req, "id"))

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return badRequest("decoding request body: %v", err)
	}
	status := vulns.Status(body.Status)
	switch status {
	case vulns.StatusOpen, vulns.StatusResolved, vulns.StatusAcceptedRisk:
	default:
		return badRequest("unknown status: %s", body.Status)
	}

	if err := r.correlate.SetStatus(req.Context(), tenant, id, status); err != nil {
		return err
	}
	return writeJSON(w, map[string]string{"id": string(id), "status": string(status)})
}

// GET /v1/{tenant}/assets?limit=
func (r *Router) handleAssets(w http.ResponseWriter, req *http.Request) error {
	tenant, err := tenantParam(req)
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))

	list, err := r.assets.List(req.Context(), tenant, middleware.ValidateLimit(limit))
	if err != nil {
		return err
	}
	return writeJSON(w, list)
}

// POST /v1/{tenant}/ai/analyze
// Body: {"scan_id": "<id>"}
func (r *Router) handleAIAnalyze(w http.ResponseWriter, req *http.Request) error {
	tenant, err := tenantParam(req)
	if err != nil {
		return err
	}
	var body struct {
		ScanID string `json:"scan_id"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return badRequest("decoding request body: %v", err)
	}
	if body.ScanID == "" {
		return badRequest("scan_id is required")
	}

	// the scan must exist and belong to the tenant
	if _, err := r.scansSvc.Get(req.Context(), tenant, domain.ScanID(body.ScanID)); err != nil {
		return err
	}

	a, err := r.aiSvc.AnalyzeScan(req.Context(), tenant, body.ScanID)
	if err != nil {
		return err
	}
	return writeJSON(w, a)
}

// GET /v1/{tenant}/ai/analyze?page=&page_size=
func (r *Router) handleAIAnalyzeList(w http.ResponseWriter, req *http.Request) error {
	tenant, err := tenantParam(req)
	if err != nil {
		return err
	}
	page, _ := strconv.Atoi(req.URL.Query().Get("page"))
	size, _ := strconv.Atoi(req.URL.Query().Get("page_size"))

	list, err := r.aiSvc.Paginate(req.Context(), tenant, page, middleware.ValidateLimit(size))
	if err != nil {
		return err
	}
	return writeJSON(w, list)
}
