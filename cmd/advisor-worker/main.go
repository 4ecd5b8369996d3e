package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"gap-advisor/internal/advisor/app"
	"gap-advisor/internal/advisor/quota"
	"gap-advisor/internal/common/camunda"
	"gap-advisor/internal/common/config"
	"gap-advisor/internal/common/logger"
	"gap-advisor/internal/common/observability"

	confirmvariant "gap-advisor/internal/workers/advisor/confirm-variant"
	exportconversation "gap-advisor/internal/workers/advisor/export-conversation"
	openconversation "gap-advisor/internal/workers/advisor/open-conversation"
	retryturn "gap-advisor/internal/workers/advisor/retry-turn"
	submitturn "gap-advisor/internal/workers/advisor/submit-turn"
	suggestquestions "gap-advisor/internal/workers/advisor/suggest-questions"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting advisor worker...", zap.String("version", cfg.App.Version))

	obs, err := observability.New("advisor-worker")
	if err != nil {
		zapLog.Fatal("observability init failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, obs.Tracer(), log)
	if err != nil {
		zapLog.Fatal("advisor assembly failed", zap.Error(err))
	}
	if err := a.Migrate(ctx); err != nil {
		zapLog.Fatal("schema migration failed", zap.Error(err))
	}

	sweeper := quota.NewSweeper(a.Counter, log)
	if err := sweeper.Start(cfg.Advisor.Quota.SweepSchedule); err != nil {
		zapLog.Fatal("quota sweeper failed to start", zap.Error(err))
	}

	var zeebe *camunda.Client
	var broker brokerChecker
	var workers []*camunda.Worker
	if cfg.Camunda.Enabled {
		zeebe, err = camunda.Connect(ctx, camunda.ConfigFrom(cfg.Camunda), log)
		if err != nil {
			zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
		}
		broker = zeebe
		workers = registerWorkers(cfg, a, zeebe, obs, log)
		zapLog.Info("Workers registered", zap.Int("count", len(workers)))
	} else {
		zapLog.Warn("Camunda disabled; serving health and metrics only")
	}

	srv := &http.Server{
		Addr:              cfg.Metrics.Address,
		Handler:           newRouter(a, broker),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zapLog.Info("Shutdown signal received, stopping workers...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, w := range workers {
		w.Stop()
	}
	if zeebe != nil {
		if err := zeebe.Close(); err != nil {
			zapLog.Error("Error closing Zeebe client", zap.Error(err))
		}
	}
	sweeper.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping HTTP server", zap.Error(err))
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error flushing telemetry", zap.Error(err))
	}
	a.Close()

	zapLog.Info("Advisor worker stopped gracefully")
}

func registerWorkers(cfg *config.Config, a *app.App, zeebe *camunda.Client, obs *observability.Observability, log logger.Logger) []*camunda.Worker {
	var started []*camunda.Worker
	start := func(taskType string, handler camunda.JobHandler) {
		started = append(started, camunda.StartWorker(zeebe.Zeebe(), taskType, config.GetWorkerConfig(cfg, taskType), handler, obs, log))
	}
	timeout := func(taskType string, fallback time.Duration) time.Duration {
		if ms := config.GetWorkerConfig(cfg, taskType).Timeout; ms > 0 {
			return config.GetDuration(ms)
		}
		return fallback
	}

	if config.IsWorkerEnabled(cfg, submitturn.TaskType) {
		c := submitturn.LoadConfig()
		c.Timeout = timeout(submitturn.TaskType, c.Timeout)
		start(submitturn.TaskType, submitturn.NewHandler(c, a.Engine, log))
	}

	if config.IsWorkerEnabled(cfg, retryturn.TaskType) {
		c := retryturn.LoadConfig()
		c.Timeout = timeout(retryturn.TaskType, c.Timeout)
		start(retryturn.TaskType, retryturn.NewHandler(c, a.Engine, log))
	}

	if config.IsWorkerEnabled(cfg, openconversation.TaskType) {
		c := openconversation.LoadConfig()
		c.Timeout = timeout(openconversation.TaskType, c.Timeout)
		start(openconversation.TaskType, openconversation.NewHandler(c, a.Engine, log))
	}

	if config.IsWorkerEnabled(cfg, suggestquestions.TaskType) {
		c := suggestquestions.LoadConfig()
		c.Timeout = timeout(suggestquestions.TaskType, c.Timeout)
		start(suggestquestions.TaskType, suggestquestions.NewHandler(c, a.Engine, log))
	}

	if config.IsWorkerEnabled(cfg, confirmvariant.TaskType) {
		c := confirmvariant.LoadConfig()
		c.Timeout = timeout(confirmvariant.TaskType, c.Timeout)
		start(confirmvariant.TaskType, confirmvariant.NewHandler(c, a.Engine, log))
	}

	if config.IsWorkerEnabled(cfg, exportconversation.TaskType) {
		c := exportconversation.LoadConfig()
		c.Timeout = timeout(exportconversation.TaskType, c.Timeout)
		var mailer exportconversation.Mailer
		if a.Mailer != nil {
			c.FromEmail = cfg.AWS.SES.FromEmail
			mailer = a.Mailer
		}
		start(exportconversation.TaskType, exportconversation.NewHandler(c, a.Engine, mailer, log))
	}

	return started
}
