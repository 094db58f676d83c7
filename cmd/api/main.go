package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appai "github.com/ramjavii/nestsecure/internal/application/ai"
	"github.com/ramjavii/nestsecure/internal/application/correlation"
	"github.com/ramjavii/nestsecure/internal/application/risk"
	appscans "github.com/ramjavii/nestsecure/internal/application/scans"
	"github.com/ramjavii/nestsecure/internal/config"
	"github.com/ramjavii/nestsecure/internal/domain/ai"
	"github.com/ramjavii/nestsecure/internal/domain/analyst"
	"github.com/ramjavii/nestsecure/internal/domain/assets"
	"github.com/ramjavii/nestsecure/internal/domain/findings"
	"github.com/ramjavii/nestsecure/internal/domain/scanerrors"
	domain "github.com/ramjavii/nestsecure/internal/domain/scans"
	"github.com/ramjavii/nestsecure/internal/domain/vulns"
	openaiclient "github.com/ramjavii/nestsecure/internal/infra/ai/openai"
	"github.com/ramjavii/nestsecure/internal/infra/db/mysql"
	"github.com/ramjavii/nestsecure/internal/infra/db/postgres"
	"github.com/ramjavii/nestsecure/internal/infra/httpserver"
	"github.com/ramjavii/nestsecure/internal/infra/kev"
	minioStore "github.com/ramjavii/nestsecure/internal/infra/storage"
	"github.com/ramjavii/nestsecure/internal/integration"
	"github.com/ramjavii/nestsecure/internal/integration/factory"
	"github.com/ramjavii/nestsecure/internal/logx"
	"github.com/ramjavii/nestsecure/internal/middleware"
	"github.com/ramjavii/nestsecure/internal/resilience"
)

type repositories struct {
	scans    domain.Repository
	jobs     domain.JobRepository
	findings findings.Repository
	vulns    vulns.Repository
	assets   assets.Repository
	errors   scanerrors.Repository
	analyst  analyst.Repository
}

func main() {
	logger := logx.New(os.Getenv("DEBUG") != "")
	slog.SetDefault(logger)

	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}
	cfg, err := config.Load(path)
	if err != nil {
		logger.Error("config load error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var repos repositories
	var dbChecker middleware.HealthChecker
	switch cfg.Database.Driver {
	case "mysql":
		db, err := mysql.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			logger.Error("mysql connect error", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer db.Close()
		repos = repositories{
			scans:    mysql.NewScanRepository(db),
			jobs:     mysql.NewToolJobRepository(db),
			findings: mysql.NewFindingRepository(db),
			vulns:    mysql.NewVulnRepository(db),
			assets:   mysql.NewAssetRepository(db),
			errors:   mysql.NewScanErrorRepository(db),
			analyst:  mysql.NewAnalystRepository(db),
		}
		dbChecker = &middleware.DatabaseHealthChecker{DB: db}
	default:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			logger.Error("postgres connect error", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer db.Close()
		repos = repositories{
			scans:    postgres.NewScanRepository(db),
			jobs:     postgres.NewToolJobRepository(db),
			findings: postgres.NewFindingRepository(db),
			vulns:    postgres.NewVulnRepository(db),
			assets:   postgres.NewAssetRepository(db),
			errors:   postgres.NewScanErrorRepository(db),
			analyst:  postgres.NewAnalystRepository(db),
		}
		dbChecker = &middleware.DatabaseHealthChecker{DB: db}
	}

	store, err := minioStore.New(ctx,
		cfg.Minio.Endpoint,
		cfg.Minio.Region,
		cfg.Minio.BucketName,
		cfg.Minio.AccessKey,
		cfg.Minio.SecretKey,
		cfg.Minio.UseSSL,
	)
	if err != nil {
		logger.Error("minio init error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// resilience shared by every tool client
	breakers := resilience.NewRegistry(cfg.Resilience.BreakerThreshold, cfg.Resilience.BreakerCooldown)
	retry := resilience.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.Resilience.RetryAttempts
	retry.BaseDelay = cfg.Resilience.RetryBaseDelay
	retry.Logger = logger

	toolOpts := factory.Options{
		NmapBin:         cfg.Tools.Nmap.Bin,
		NmapArgs:        cfg.Tools.Nmap.Args,
		NucleiBin:       cfg.Tools.Nuclei.Bin,
		NucleiSeverity:  cfg.Tools.Nuclei.Severity,
		NucleiRateLimit: cfg.Tools.Nuclei.RateLimit,
		GVMEndpoint:     cfg.Tools.GVM.Endpoint,
		GVMUsername:     cfg.Tools.GVM.Username,
		GVMPassword:     cfg.Tools.GVM.Password,
		GVMInsecure:     cfg.Tools.GVM.Insecure,
		ZAPBaseURL:      cfg.Tools.ZAP.BaseURL,
		ZAPAPIKey:       cfg.Tools.ZAP.APIKey,
	}
	clients := func(tool domain.Tool) (integration.Client, error) {
		c, err := factory.New(tool, toolOpts)
		if err != nil {
			return nil, err
		}
		return integration.Guard(c, breakers, retry), nil
	}

	// correlation feeds risk recomputation per affected host
	engine := correlation.New(repos.vulns, repos.findings, cfg.Correlation.TitleSimilarity, logger)
	kevClient := kev.New(cfg.KEV.URL, cfg.KEV.TTL)
	calculator := risk.NewCalculator(repos.assets, repos.vulns, kevClient, logger)
	engine.OnEvent(func(ctx context.Context, ev correlation.Event) {
		if ev.Vuln == nil || ev.Vuln.Host == "" {
			return
		}
		if err := calculator.Recompute(ctx, ev.Vuln.TenantID, ev.Vuln.Host); err != nil {
			logger.WarnContext(ctx, "risk recompute failed",
				slog.String("host", ev.Vuln.Host), slog.String("error", err.Error()))
		}
	})

	svc := appscans.NewService(repos.scans, repos.jobs, repos.errors, store, clients, engine, logger)
	svc.Workers = cfg.Orchestrator.Workers
	svc.ClaimInterval = cfg.Orchestrator.ClaimInterval
	svc.PollInterval = cfg.Orchestrator.PollInterval
	svc.JobTimeout = cfg.Orchestrator.JobTimeout

	var aiClient ai.Client
	if cfg.OpenAI.APIKey != "" {
		aiClient = openaiclient.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model)
	}
	aiSvc := appai.NewService(aiClient, repos.vulns, repos.analyst)

	// dispatcher: resumes jobs from a previous run, then claims new ones
	go func() {
		if err := svc.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("dispatcher stopped", slog.String("error", err.Error()))
		}
	}()

	handler := httpserver.NewRouter(httpserver.Options{
		Scans:       svc,
		AI:          aiSvc,
		Correlation: engine,
		Vulns:       repos.vulns,
		Findings:    repos.findings,
		Assets:      repos.assets,
		Health: map[string]middleware.HealthChecker{
			"database": dbChecker,
			"storage":  middleware.CheckerFunc(store.Ping),
		},
		Middlewares: []func(http.Handler) http.Handler{
			middleware.Logging(logger),
			middleware.MetricsMiddleware,
			middleware.APIKeyAuth(cfg.Auth.APIKeys),
			middleware.RateLimit(cfg.RateLimit.Capacity, cfg.RateLimit.RefillRate),
		},
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
	}
}
