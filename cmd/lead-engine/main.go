package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/edupoint-crm/lead-engine/internal/handler"
	"github.com/edupoint-crm/lead-engine/internal/middleware"
	"github.com/edupoint-crm/lead-engine/internal/repository"
	"github.com/edupoint-crm/lead-engine/internal/service"
	"github.com/edupoint-crm/lead-engine/pkg/cache"
	"github.com/edupoint-crm/lead-engine/pkg/config"
	"github.com/edupoint-crm/lead-engine/pkg/database"
	"github.com/edupoint-crm/lead-engine/pkg/jobs"
	"github.com/edupoint-crm/lead-engine/pkg/logger"
	reqidmiddleware "github.com/edupoint-crm/lead-engine/pkg/middleware/requestid"
	"github.com/edupoint-crm/lead-engine/pkg/notify"
	"github.com/edupoint-crm/lead-engine/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("postgres connection failed", "error", err)
	}
	defer db.Close() //nolint:errcheck

	rdb, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("redis connection failed", "error", err)
	}
	defer rdb.Close() //nolint:errcheck

	loc := cfg.Location()

	reports, err := storage.NewReportStore(cfg.Reports.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("report store init failed", "error", err)
	}

	clock := service.NewClock(loc)
	validate := validator.New()
	metrics := service.NewMetricsService()

	metered := notify.NewMeteredSink(notify.NewConsoleSink(logr), metrics.CountEmit)
	delivery := notify.NewAsyncSink(metered, jobs.QueueConfig{Workers: 2}, logr)
	var sink notify.Sink = notify.NewDedupSink(delivery, rdb, cfg.Sink.DedupTTL, cfg.Sink.Timeout, logr)

	txer := repository.NewTxer(db)
	leadRepo := repository.NewLeadRepository(db)
	historyRepo := repository.NewLeadHistoryRepository(db)
	followUpRepo := repository.NewFollowUpRepository(db)
	trialRepo := repository.NewTrialRepository(db)
	agentRepo := repository.NewAgentRepository(db)
	reactivationRepo := repository.NewReactivationRepository(db)
	kpiRepo := repository.NewKPIRepository(db)

	calendar := service.NewWorkCalendar(loc, cfg.Workday.DefaultStart, cfg.Workday.DefaultEnd)
	followUpSvc := service.NewFollowUpService(txer, leadRepo, followUpRepo, agentRepo, calendar,
		sink, clock, cfg.FollowUp.ChainOffsetsHours, logr)
	leadSvc := service.NewLeadService(txer, leadRepo, historyRepo, followUpSvc, reactivationRepo,
		sink, clock, metrics, logr)
	dispatchSvc := service.NewDispatchService(txer, leadRepo, historyRepo, followUpSvc, agentRepo,
		calendar, sink, clock, cfg.Dispatch.DailyCapDefault, loc, logr)
	trialSvc := service.NewTrialService(txer, trialRepo, leadRepo, agentRepo, leadSvc, calendar,
		sink, clock, cfg.Trial.ReminderHorizonsHours, loc, logr)
	reactivationSvc := service.NewReactivationService(txer, reactivationRepo, leadRepo, followUpSvc,
		clock, cfg.Reactivation.Days, logr)
	kpiSvc := service.NewKPIService(kpiRepo, historyRepo, followUpRepo, agentRepo, sink, clock,
		cfg.KPI, loc, reports, logr)
	agentSvc := service.NewAgentService(agentRepo, clock, loc, validate, logr)

	scheduler := jobs.NewScheduler(jobSpecs(cfg, dispatchSvc, followUpSvc, trialSvc,
		reactivationSvc, kpiSvc, agentSvc), loc, cfg.Engine.JobBudget, metrics, logr)

	var source service.Source
	if cfg.Ingest.SourceURL != "" {
		source = service.NewHTTPSource(cfg.Ingest.SourceURL, cfg.Ingest.FetchTimeout)
	}
	ingestSvc := service.NewIngestService(leadRepo, source, dispatchKick{scheduler},
		clock, validate, cfg.Engine.DefaultCountryPrefix, metrics, logr)

	// The pull job is registered after construction because the ingest
	// service holds the scheduler for the dispatch kick.
	scheduler.Register(jobs.JobSpec{
		Kind:  "ingest",
		Every: cfg.Scheduler.IngestCadence,
		Run:   ingestSvc.PullPass,
	})

	router := buildRouter(cfg, logr, metrics, db, rdb, scheduler,
		leadSvc, followUpSvc, trialSvc, agentSvc, ingestSvc, kpiRepo)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	delivery.Start(rootCtx)
	scheduler.Start(rootCtx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Errorw("server failed", "error", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("server shutdown incomplete", "error", err)
	}
	scheduler.Stop()
	delivery.Stop()
	logr.Sugar().Infow("stopped")
}

// dispatchKick lets the ingestor request an immediate dispatcher pass.
type dispatchKick struct {
	scheduler *jobs.Scheduler
}

func (d dispatchKick) TriggerDispatch() {
	_ = d.scheduler.Trigger("dispatch")
}

func jobSpecs(
	cfg *config.Config,
	dispatch *service.DispatchService,
	followUps *service.FollowUpService,
	trials *service.TrialService,
	reactivation *service.ReactivationService,
	kpis *service.KPIService,
	agents *service.AgentService,
) []jobs.JobSpec {
	return []jobs.JobSpec{
		{Kind: "dispatch", Every: cfg.Scheduler.DispatchCadence, Run: dispatch.Pass},
		{Kind: "followup_reminder", Every: cfg.Scheduler.ReminderCadence, Run: func(ctx context.Context) error {
			return followUps.ReminderPass(ctx, cfg.Scheduler.ReminderCadence)
		}},
		{Kind: "followup_overdue", Every: cfg.Scheduler.OverdueCadence, Run: followUps.OverduePass},
		{Kind: "chain_topup", Every: cfg.Scheduler.ChainTopUpCadence, Run: followUps.ChainTopUpPass},
		{Kind: "trial_reminder", Every: cfg.Scheduler.TrialCadence, Run: func(ctx context.Context) error {
			return trials.ReminderPass(ctx, cfg.Scheduler.TrialCadence)
		}},
		{Kind: "digest", At: cfg.Scheduler.DigestAt, Run: kpis.DigestPass},
		{Kind: "kpi_daily", At: cfg.Scheduler.DailyKPIAt, Run: kpis.DailyPass},
		{Kind: "kpi_monthly", At: cfg.Scheduler.MonthlyKPIAt, MonthlyDay: 1, Run: kpis.MonthlyPass},
		{Kind: "reactivation", At: cfg.Scheduler.ReactivateAt, Run: reactivation.Pass},
		{Kind: "leave_expiry", At: cfg.Scheduler.LeaveExpiryAt, Run: agents.LeaveExpiryPass},
	}
}

func buildRouter(
	cfg *config.Config,
	logr *zap.Logger,
	metrics *service.MetricsService,
	db *sqlx.DB,
	rdb *redis.Client,
	scheduler *jobs.Scheduler,
	leadSvc *service.LeadService,
	followUpSvc *service.FollowUpService,
	trialSvc *service.TrialService,
	agentSvc *service.AgentService,
	ingestSvc *service.IngestService,
	kpiRepo *repository.KPIRepository,
) *gin.Engine {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(middleware.Metrics(metrics))

	metricsHandler := handler.NewMetricsHandler(metrics, db, rdb)
	leadHandler := handler.NewLeadHandler(leadSvc, followUpSvc)
	ingestHandler := handler.NewIngestHandler(ingestSvc)
	trialHandler := handler.NewTrialHandler(trialSvc)
	adminHandler := handler.NewAdminHandler(scheduler, agentSvc, service.NewKPIQueryService(kpiRepo))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	api := r.Group("/api/v1")
	{
		api.POST("/leads/ingest", ingestHandler.Ingest)
		api.GET("/leads", leadHandler.List)
		api.GET("/leads/:id", leadHandler.Get)
		api.POST("/leads/:id/transition", leadHandler.Transition)
		api.POST("/followups/:id/complete", leadHandler.CompleteFollowUp)
		api.POST("/trials", trialHandler.Create)
		api.POST("/trials/:id/result", trialHandler.SetResult)
		api.GET("/jobs", adminHandler.ListJobs)
		api.POST("/jobs/:kind/trigger", adminHandler.TriggerJob)
		api.POST("/leaves", adminHandler.CreateLeave)
		api.POST("/leaves/:id/approve", adminHandler.ApproveLeave)
		api.POST("/leaves/:id/reject", adminHandler.RejectLeave)
		api.GET("/kpi/daily/:agentId", adminHandler.DailyKPIs)
		api.GET("/kpi/monthly", adminHandler.MonthlyKPIs)
	}

	return r
}
