// Package jobs runs report exports on the asynq queue, both on demand and on
// a nightly schedule.
package jobs

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"tokoku/internal/domain"
	"tokoku/internal/report"
)

const (
	// QueueDefault is the queue every tokoku task goes to.
	QueueDefault = "default"
	// TaskReportExport writes a sales report to disk in one or more formats.
	TaskReportExport = "report:export"

	exportMaxRetry = 3
	exportTimeout  = 2 * time.Minute
)

// ExportPayload is the body of a TaskReportExport task. An empty Dir means
// the worker's configured export directory. AsOf pins the period to the
// date it was requested on; PreviousDay asks the worker to pin it to the
// day before it runs.
type ExportPayload struct {
	Period      string   `json:"period"`
	From        string   `json:"from,omitempty"`
	To          string   `json:"to,omitempty"`
	AsOf        string   `json:"as_of,omitempty"`
	PreviousDay bool     `json:"previous_day,omitempty"`
	Formats     []string `json:"formats"`
	Dir         string   `json:"dir,omitempty"`
}

func (p ExportPayload) query() domain.ReportQuery {
	return domain.ReportQuery{Period: p.Period, From: p.From, To: p.To, AsOf: p.AsOf}
}

func (p ExportPayload) formats() ([]report.Format, error) {
	out := make([]report.Format, 0, len(p.Formats))
	seen := make(map[report.Format]struct{}, len(p.Formats))
	for _, raw := range p.Formats {
		f, err := report.ParseFormat(raw)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out, nil
}

// NewExportTask constructs a TaskReportExport task.
func NewExportTask(payload ExportPayload) (*asynq.Task, error) {
	payload.Period = strings.ToLower(strings.TrimSpace(payload.Period))
	if payload.Period == "" {
		payload.Period = string(report.PeriodDaily)
	}
	if _, err := payload.formats(); err != nil {
		return nil, fmt.Errorf("export task: %w", err)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReportExport, data, asynq.MaxRetry(exportMaxRetry), asynq.Timeout(exportTimeout)), nil
}

// NewPreviousDayExportTask is the task the nightly schedule enqueues just
// after midnight: yesterday's sales in every format.
func NewPreviousDayExportTask() (*asynq.Task, error) {
	return NewExportTask(ExportPayload{
		Period:      string(report.PeriodDaily),
		PreviousDay: true,
		Formats:     []string{string(report.FormatCSV), string(report.FormatXLSX), string(report.FormatPDF)},
	})
}
