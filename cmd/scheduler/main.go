package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/weskerllc/cronicorn/config"
	"github.com/weskerllc/cronicorn/internal/clock"
	"github.com/weskerllc/cronicorn/internal/dispatch"
	"github.com/weskerllc/cronicorn/internal/health"
	"github.com/weskerllc/cronicorn/internal/infrastructure/postgres"
	ctxlog "github.com/weskerllc/cronicorn/internal/log"
	"github.com/weskerllc/cronicorn/internal/metrics"
	"github.com/weskerllc/cronicorn/internal/planner"
	"github.com/weskerllc/cronicorn/internal/planner/llm"
	"github.com/weskerllc/cronicorn/internal/quota"
	"github.com/weskerllc/cronicorn/internal/scheduler"
	"github.com/weskerllc/cronicorn/internal/ssrf"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		stop()
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()
	logger.Info("db connected")

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		stop()
		log.Fatalf("redis url: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	metrics.Register()
	checker := health.NewChecker(pool, redisClient, logger, prometheus.DefaultRegisterer)

	jobRepo := postgres.NewJobRepository(pool)
	endpointRepo := postgres.NewEndpointRepository(pool)
	runRepo := postgres.NewRunRepository(pool)
	sessionRepo := postgres.NewAISessionRepository(pool)
	signingKeyRepo := postgres.NewSigningKeyRepository(pool)

	tenantResolver := jobRepo.TenantIDForJob

	validator := ssrf.New()
	dispatcher := dispatch.New(validator, signingKeyRepo.GetKey, logger)

	dispatchGuard := quota.NewGuard(redisClient, "dispatch", cfg.DispatchQuotaLimit, time.Duration(cfg.DispatchQuotaWindowSec)*time.Second)

	wallClock := clock.New()
	tick := scheduler.NewTick(endpointRepo, runRepo, dispatcher, dispatchGuard, tenantResolver, wallClock, logger, scheduler.Config{
		BatchSize: cfg.ClaimBatchSize,
		Horizon:   time.Duration(cfg.ClaimHorizonSec) * time.Second,
	})
	worker := scheduler.NewWorker(tick, time.Duration(cfg.PollIntervalSec)*time.Second, logger)
	metrics.WorkerStartTime.Set(float64(wallClock.Now().Unix()))
	go worker.Start(ctx)

	sweeper := scheduler.NewSweeper(runRepo, time.Duration(cfg.SweepIntervalSec)*time.Second, time.Duration(cfg.SweepStaleAfterSec)*time.Second, logger)
	go sweeper.Start(ctx)

	llmClient, err := llm.NewFromAPIKey(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	if err != nil {
		logger.Warn("anthropic client disabled, planner will not run", "error", err)
	} else {
		guard := quota.NewGuard(redisClient, "planner", cfg.PlannerQuotaLimit, time.Duration(cfg.PlannerQuotaWindowSec)*time.Second)
		plan := planner.New(endpointRepo, runRepo, sessionRepo, llmClient, guard, tenantResolver, wallClock, logger, planner.Config{
			BatchSize:               cfg.PlannerBatchSize,
			DefaultAnalysisInterval: time.Duration(cfg.PlannerDefaultIntervalSec) * time.Second,
		})
		plannerWorker := planner.NewWorker(plan, cfg.PlannerBatchSize, time.Duration(cfg.PlannerPollIntervalSec)*time.Second, logger)
		go plannerWorker.Start(ctx)
	}

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)
	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}

	logger.Info("scheduler shut down")
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
