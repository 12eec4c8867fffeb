package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"tokoku/internal/domain"
	"tokoku/internal/observability"
	"tokoku/internal/report"
	"tokoku/internal/store"
)

// Exporter writes report files. *service.Service satisfies it.
type Exporter interface {
	ExportBundle(ctx context.Context, query domain.ReportQuery, formats []report.Format, dir string) ([]string, error)
}

// ExportJob handles TaskReportExport.
type ExportJob struct {
	exporter Exporter
	dir      string
	loc      *time.Location
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

func NewExportJob(exporter Exporter, dir string, loc *time.Location, metrics *observability.Metrics, logger *zap.Logger) *ExportJob {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportJob{exporter: exporter, dir: dir, loc: loc, metrics: metrics, logger: logger, now: time.Now}
}

// Handle fulfils the asynq.HandlerFunc contract. Payloads that can never
// succeed are not retried.
func (j *ExportJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.exporter == nil {
		return errors.New("export job not configured")
	}
	var payload ExportPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode export payload: %v: %w", err, asynq.SkipRetry)
	}
	formats, err := payload.formats()
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	dir := payload.Dir
	if dir == "" {
		dir = j.dir
	}
	if payload.AsOf == "" && payload.PreviousDay {
		payload.AsOf = j.now().In(j.loc).AddDate(0, 0, -1).Format(time.DateOnly)
	}

	tracker := j.metrics.Track(TaskReportExport)
	files, err := j.exporter.ExportBundle(ctx, payload.query(), formats, dir)
	if err = tracker.End(err); err != nil {
		if permanent(err) {
			j.logger.Warn("export task dropped", zap.String("period", payload.Period), zap.String("as_of", payload.AsOf), zap.Error(err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		j.logger.Error("export task failed", zap.String("period", payload.Period), zap.String("as_of", payload.AsOf), zap.Error(err))
		return err
	}

	j.logger.Info("export task done", zap.String("period", payload.Period), zap.String("as_of", payload.AsOf), zap.Strings("files", files))
	return nil
}

func permanent(err error) bool {
	return errors.Is(err, report.ErrInvalidPeriod) ||
		errors.Is(err, report.ErrInvalidRange) ||
		errors.Is(err, report.ErrUnsupportedFormat) ||
		errors.Is(err, store.ErrInvalidInput)
}
