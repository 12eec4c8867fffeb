// Package report filters sales into period buckets and serialises them as
// CSV, XLSX or PDF.
package report

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tokoku/internal/domain"
)

var ErrUnsupportedFormat = errors.New("unsupported report format")

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatPDF  Format = "pdf"
)

func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case FormatCSV, FormatXLSX, FormatPDF:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, raw)
	}
}

func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatPDF:
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

func (f Format) Extension() string {
	return "." + string(f)
}

// Report is everything a serializer needs. Sales are expected newest first,
// as the store returns them.
type Report struct {
	ShopName    string
	Currency    string
	Location    *time.Location
	Range       Range
	GeneratedAt time.Time
	Sales       []domain.Sale
	Summary     domain.SalesSummary
}

func New(shopName string, currency string, loc *time.Location, r Range, sales []domain.Sale, now time.Time) Report {
	if loc == nil {
		loc = time.UTC
	}
	filtered := Filter(sales, r)
	return Report{
		ShopName:    shopName,
		Currency:    currency,
		Location:    loc,
		Range:       r,
		GeneratedAt: now,
		Sales:       filtered,
		Summary:     Summarize(filtered),
	}
}

// FileName is the suggested download name, e.g. sales-weekly-2026-05-01.csv.
func (r Report) FileName(f Format) string {
	return fmt.Sprintf("sales-%s-%s%s", r.Range.Period, r.Range.From.Format(time.DateOnly), f.Extension())
}

func (r Report) soldAt(sale domain.Sale) string {
	return sale.SoldAt.In(r.Location).Format(time.DateTime)
}

func Filter(sales []domain.Sale, r Range) []domain.Sale {
	out := make([]domain.Sale, 0, len(sales))
	for _, sale := range sales {
		if r.Contains(sale.SoldAt) {
			out = append(out, sale)
		}
	}
	return out
}

func Summarize(sales []domain.Sale) domain.SalesSummary {
	summary := domain.SalesSummary{Revenue: decimal.Zero}
	for _, sale := range sales {
		summary.Count++
		summary.TotalQuantity += sale.Quantity
		summary.Revenue = summary.Revenue.Add(sale.TotalPrice)
	}
	return summary
}

func Write(w io.Writer, f Format, r Report) error {
	switch f {
	case FormatCSV:
		return WriteCSV(w, r)
	case FormatXLSX:
		return WriteXLSX(w, r)
	case FormatPDF:
		return WritePDF(w, r)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
	}
}
