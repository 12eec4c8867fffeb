package jobs

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"tokoku/internal/domain"
)

// Worker wraps the asynq server and an optional scheduler.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *zap.Logger
}

type TaskHandler struct {
	Type    string
	Handler asynq.HandlerFunc
}

// CronRegistration wires a cron expression to a prepared task.
type CronRegistration struct {
	Spec    string
	Task    *asynq.Task
	Options []asynq.Option
}

type WorkerConfig struct {
	RedisOpts   asynq.RedisClientOpt
	Concurrency int
	Location    *time.Location
	Logger      *zap.Logger
	Handlers    []TaskHandler
	Cron        []CronRegistration
}

func NewWorker(cfg WorkerConfig) (*Worker, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 2
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{QueueDefault: 1},
		Logger:      zapAdapter{logger.Sugar()},
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			logger.Warn("task error", zap.String("type", task.Type()), zap.Error(err))
		}),
	})
	mux := asynq.NewServeMux()
	for _, h := range cfg.Handlers {
		if h.Type == "" || h.Handler == nil {
			continue
		}
		mux.HandleFunc(h.Type, h.Handler)
	}

	var scheduler *asynq.Scheduler
	if len(cfg.Cron) > 0 {
		scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{Location: loc, Logger: zapAdapter{logger.Sugar()}})
		for _, entry := range cfg.Cron {
			if strings.TrimSpace(entry.Spec) == "" || entry.Task == nil {
				continue
			}
			if _, err := scheduler.Register(entry.Spec, entry.Task, entry.Options...); err != nil {
				return nil, err
			}
		}
	}

	return &Worker{server: srv, mux: mux, scheduler: scheduler, logger: logger}, nil
}

// Run processes tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			return err
		}
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Run(w.mux)
	}()
	w.logger.Info("job worker started")

	select {
	case <-ctx.Done():
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		w.server.Shutdown()
		return ctx.Err()
	case err := <-errCh:
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		return err
	}
}

// Client submits export tasks. The zero Dir lets the worker pick its own
// export directory.
type Client struct {
	client *asynq.Client
	dir    string
	loc    *time.Location
	now    func() time.Time
}

func NewClient(redisOpts asynq.RedisClientOpt, dir string, loc *time.Location) *Client {
	if loc == nil {
		loc = time.UTC
	}
	return &Client{client: asynq.NewClient(redisOpts), dir: dir, loc: loc, now: time.Now}
}

// EnqueueExport queues one export and returns the task id. The period is
// pinned to the enqueue date so a late run or a retry exports the same days.
func (c *Client) EnqueueExport(ctx context.Context, req domain.ExportRequest) (string, error) {
	task, err := NewExportTask(c.exportPayload(req))
	if err != nil {
		return "", err
	}
	info, err := c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

func (c *Client) exportPayload(req domain.ExportRequest) ExportPayload {
	asOf := req.AsOf
	if asOf == "" {
		asOf = c.now().In(c.loc).Format(time.DateOnly)
	}
	return ExportPayload{
		Period:  req.Period,
		From:    req.From,
		To:      req.To,
		AsOf:    asOf,
		Formats: req.Formats,
		Dir:     c.dir,
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// zapAdapter routes asynq's internal logging through zap.
type zapAdapter struct {
	s *zap.SugaredLogger
}

func (a zapAdapter) Debug(args ...any) { a.s.Debug(args...) }
func (a zapAdapter) Info(args ...any)  { a.s.Info(args...) }
func (a zapAdapter) Warn(args ...any)  { a.s.Warn(args...) }
func (a zapAdapter) Error(args ...any) { a.s.Error(args...) }
func (a zapAdapter) Fatal(args ...any) { a.s.Fatal(args...) }
