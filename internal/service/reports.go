package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"tokoku/internal/domain"
	"tokoku/internal/report"
	"tokoku/internal/worker"
)

func (s *Service) BuildReport(ctx context.Context, query domain.ReportQuery) (report.Report, error) {
	r, err := s.resolve(query)
	if err != nil {
		return report.Report{}, err
	}
	sales, err := s.repo.ListSales(ctx, r.From, r.To)
	if err != nil {
		return report.Report{}, err
	}
	return report.New(s.shopName, s.currency, s.loc, r, sales, s.now()), nil
}

// ExportReport renders the period's sales as format into w and returns the
// suggested file name.
func (s *Service) ExportReport(ctx context.Context, query domain.ReportQuery, format report.Format, w io.Writer) (string, error) {
	rep, err := s.BuildReport(ctx, query)
	if err != nil {
		return "", err
	}

	err = report.Write(w, format, rep)
	s.metrics.ReportExported(string(format), err)
	if err != nil {
		s.logger.Error("report export failed", zap.String("format", string(format)), zap.Error(err))
		return "", fmt.Errorf("write %s report: %w", format, err)
	}
	return rep.FileName(format), nil
}

// ExportBundle writes one file per format into dir and returns their paths.
// The sales are read once and the formats render concurrently.
func (s *Service) ExportBundle(ctx context.Context, query domain.ReportQuery, formats []report.Format, dir string) ([]string, error) {
	if len(formats) == 0 {
		formats = []report.Format{report.FormatCSV, report.FormatXLSX, report.FormatPDF}
	}
	rep, err := s.BuildReport(ctx, query)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}

	paths := make([]string, len(formats))
	tasks := make([]worker.Task, 0, len(formats))
	for i, format := range formats {
		tasks = append(tasks, func(context.Context) error {
			path := filepath.Join(dir, rep.FileName(format))
			err := writeReportFile(path, format, rep)
			s.metrics.ReportExported(string(format), err)
			if err != nil {
				return fmt.Errorf("export %s: %w", format, err)
			}
			paths[i] = path
			return nil
		})
	}
	if err := s.pool.Run(ctx, tasks...); err != nil {
		return nil, err
	}

	s.logger.Info("report bundle exported", zap.String("range", rep.Range.Label()), zap.Strings("files", paths))
	return paths, nil
}

func writeReportFile(path string, format report.Format, rep report.Report) error {
	var buf bytes.Buffer
	if err := report.Write(&buf, format, rep); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o640); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
