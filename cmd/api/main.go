package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"gramflow/internal/audit"
	"gramflow/internal/auth"
	"gramflow/internal/config"
	"gramflow/internal/httpapi"
	"gramflow/internal/instagram"
	"gramflow/internal/metrics"
	"gramflow/internal/queue"
	"gramflow/internal/ratelimit"
	"gramflow/internal/reporting"
	"gramflow/internal/subscription"
	"gramflow/internal/webhook"
	"gramflow/pkg/logger"
	"gramflow/pkg/storage"
)

func main() {
	// Local development convenience; a missing .env is fine.
	_ = godotenv.Load()

	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := storage.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), storage.PostgresConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := storage.OpenRedis(rootCtx, storage.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	// Ledger: redis first, postgres when redis is out.
	pgLedger := ratelimit.NewPostgresLedger(db)
	ledger := ratelimit.NewFallbackLedger(ratelimit.NewRedisLedger(rdb), pgLedger, log)

	auditSvc := audit.NewService(audit.NewPostgresRepo(db), log)
	resolver := ratelimit.NewTierResolver(subscription.NewPostgresStore(db))
	deferred := queue.NewPostgresQueue(db)

	admission := ratelimit.NewService(ledger, resolver, deferred, auditSvc, m, log, ratelimit.Limits{
		GlobalPerHour: cfg.RateLimit.GlobalHourlyLimit,
		FreePerHour:   cfg.RateLimit.FreeTierHourlyLimit,
		ProPerHour:    cfg.RateLimit.ProTierHourlyLimit,
	})

	directory := instagram.NewPostgresDirectory(db)
	igClient := instagram.NewClient(cfg.Meta.GraphBaseURL, cfg.Meta.RequestTimeout)
	automations := webhook.NewGraphAutomations(igClient, directory, auditSvc, log)
	dispatcher := webhook.NewDispatcher(admission, directory, automations, m, log, cfg.RateLimit.CommentCallCost)

	replayer := queue.NewReplayer(deferred, dispatcher, auditSvc, log,
		cfg.Queue.ReplayBatchSize, cfg.Queue.ReplayWorkers, cfg.Queue.MaxAttempts, cfg.Queue.BackoffBase)
	rollover := ratelimit.NewRolloverJob(ledger, pgLedger, resolver, auditSvc, m, log)

	go replayLoop(rootCtx, replayer, deferred, m, cfg.Queue, log)
	go rolloverLoop(rootCtx, rollover, log)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	deps := routeDeps{
		auth: authManager,
		handlers: httpapi.Handlers{
			Auth:      authManager,
			Admission: admission,
			Rollover:  rollover,
			Replayer:  replayer,
			Queue:     deferred,
			Reports:   reporting.NewService(reporting.NewPostgresRepo(db)),
		},
		webhooks: webhook.NewHandler(dispatcher, cfg.Meta.VerifyToken, cfg.Meta.AppSecret, log),
		registry: reg,
	}
	registerRoutes(r, deps)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	dispatcher.Wait()
}

// replayLoop drains deferred calls once per interval and keeps the queue
// depth gauge current.
func replayLoop(ctx context.Context, replayer *queue.Replayer, q queue.Queue, m *metrics.Metrics, cfg config.QueueConfig, log *slog.Logger) {
	ticker := time.NewTicker(cfg.ReplayInterval)
	defer ticker.Stop()

	maxPerPass := cfg.ReplayBatchSize * cfg.ReplayWorkers
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		res, err := replayer.ProcessQueuedCalls(ctx, maxPerPass)
		if err != nil {
			log.Error("replay pass failed", "err", err)
		}
		if res.Processed > 0 || res.Dropped > 0 {
			log.Info("replay pass",
				"processed", res.Processed, "still_queued", res.StillQueued, "dropped", res.Dropped)
		}
		m.ReplayProcessed.Add(float64(res.Processed))
		m.ReplayDropped.Add(float64(res.Dropped))

		if depth, err := q.Size(ctx); err == nil {
			m.QueueDepth.Set(float64(depth))
		}
	}
}

// rolloverLoop archives the previous window shortly after each hour turns.
// RolloverIfExpired is idempotent, so a tight interval is harmless.
func rolloverLoop(ctx context.Context, job *ratelimit.RolloverJob, log *slog.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if _, err := job.RolloverIfExpired(ctx); err != nil {
			log.Error("rollover failed", "err", err)
		}
	}
}
