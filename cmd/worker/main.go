package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"tokoku/internal/app"
	"tokoku/internal/config"
	"tokoku/internal/jobs"
	"tokoku/internal/logger"
	"tokoku/internal/observability"
	"tokoku/internal/service"
	"tokoku/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.AppEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync(log)

	if err := run(cfg, log); err != nil {
		log.Error("worker exited", zap.Error(err))
		logger.Sync(log)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	if cfg.RedisAddr == "" {
		return errors.New("REDIS_ADDR is required for the job worker")
	}
	if cfg.StoreDriver == "memory" {
		return errors.New("the job worker cannot share an in-memory store; use sqlite or postgres")
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	repo, closeRepo, err := app.OpenRepository(startCtx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeRepo(); err != nil {
			log.Warn("close repository", zap.Error(err))
		}
	}()

	pool := worker.NewPool(cfg.WorkerPoolSize, log)
	defer pool.Close()
	metrics := observability.NewMetrics()

	svc := service.New(repo, service.Options{
		Pool:     pool,
		Metrics:  metrics,
		Logger:   log,
		Location: loc,
		ShopName: cfg.ShopName,
		Currency: cfg.CurrencySymbol,
	})
	exportJob := jobs.NewExportJob(svc, cfg.ExportDir, loc, metrics, log)

	nightlyTask, err := jobs.NewPreviousDayExportTask()
	if err != nil {
		return fmt.Errorf("build nightly export task: %w", err)
	}

	w, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   app.RedisOpts(cfg),
		Concurrency: 2,
		Location:    loc,
		Logger:      log,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskReportExport, Handler: exportJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ExportCron, Task: nightlyTask, Options: []asynq.Option{asynq.Queue(jobs.QueueDefault)}},
		},
	})
	if err != nil {
		return fmt.Errorf("init worker: %w", err)
	}

	inspector := asynq.NewInspector(app.RedisOpts(cfg))
	defer func() { _ = inspector.Close() }()
	admin := &http.Server{
		Addr:              cfg.WorkerAdminAddr,
		Handler:           jobs.NewAdminHandler(inspector, metrics, log).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("worker admin listening", zap.String("addr", admin.Addr))
		if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("worker admin stopped", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := admin.Shutdown(shutdownCtx); err != nil {
			log.Warn("worker admin shutdown", zap.Error(err))
		}
	}()

	log.Info("export schedule registered", zap.String("cron", cfg.ExportCron), zap.String("dir", cfg.ExportDir))
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
