package report

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jung-kurt/gofpdf"

	"tokoku/internal/money"
)

const (
	pdfRowHeight    = 7.0
	pdfBottomMargin = 18.0
)

var pdfColumnWidths = []float64{46, 44, 14, 27, 27, 32}

// WritePDF lays the report out as an A4 table. The page header carries the
// shop name and period, the footer carries "Page n/total", and the table
// header is repeated on every page.
func WritePDF(w io.Writer, r Report) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(r.ShopName+" sales report", true)
	pdf.SetCreator("tokoku", true)
	if !r.GeneratedAt.IsZero() {
		pdf.SetCreationDate(r.GeneratedAt)
	}
	pdf.SetMargins(10, 10, 10)
	pdf.SetAutoPageBreak(false, pdfBottomMargin)
	pdf.AliasNbPages("")

	generated := r.GeneratedAt.In(r.Location).Format(time.DateTime)
	pdf.SetHeaderFunc(func() {
		pdf.SetFont("Helvetica", "B", 14)
		pdf.CellFormat(0, 8, tr(r.ShopName), "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 9)
		pdf.CellFormat(0, 5, tr(fmt.Sprintf("Sales report (%s): %s", r.Range.Period, r.Range.Label())), "", 1, "L", false, 0, "")
		pdf.CellFormat(0, 5, tr("Generated "+generated), "", 1, "L", false, 0, "")
		pdf.Ln(3)
	})
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.CellFormat(0, 6, fmt.Sprintf("Page %d/{nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()

	if len(r.Sales) == 0 {
		pdf.SetFont("Helvetica", "I", 11)
		pdf.CellFormat(0, 12, "No sales recorded for this period.", "", 1, "C", false, 0, "")
		return pdf.Output(w)
	}

	drawTableHeader(pdf, tr)
	_, pageHeight := pdf.GetPageSize()
	pdf.SetFont("Helvetica", "", 8)
	for _, sale := range r.Sales {
		if pdf.GetY()+pdfRowHeight > pageHeight-pdfBottomMargin {
			pdf.AddPage()
			drawTableHeader(pdf, tr)
			pdf.SetFont("Helvetica", "", 8)
		}
		cells := []string{
			sale.ID,
			sale.ProductName,
			strconv.Itoa(sale.Quantity),
			money.Format(sale.UnitPrice, ""),
			money.Format(sale.TotalPrice, ""),
			r.soldAt(sale),
		}
		aligns := []string{"L", "L", "R", "R", "R", "C"}
		for i, text := range cells {
			text = fitText(pdf, tr(text), pdfColumnWidths[i]-2)
			ln := 0
			if i == len(cells)-1 {
				ln = 1
			}
			pdf.CellFormat(pdfColumnWidths[i], pdfRowHeight, text, "1", ln, aligns[i], false, 0, "")
		}
	}

	if pdf.GetY()+4*pdfRowHeight > pageHeight-pdfBottomMargin {
		pdf.AddPage()
	}
	pdf.Ln(4)
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(0, 6, fmt.Sprintf("Sales: %d", r.Summary.Count), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Items sold: %d", r.Summary.TotalQuantity), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, tr("Revenue: "+money.Format(r.Summary.Revenue, r.Currency)), "", 1, "L", false, 0, "")

	return pdf.Output(w)
}

func drawTableHeader(pdf *gofpdf.Fpdf, tr func(string) string) {
	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(221, 235, 247)
	for i, col := range salesColumns {
		ln := 0
		if i == len(salesColumns)-1 {
			ln = 1
		}
		pdf.CellFormat(pdfColumnWidths[i], pdfRowHeight, tr(col), "1", ln, "C", true, 0, "")
	}
}

func fitText(pdf *gofpdf.Fpdf, text string, width float64) string {
	if pdf.GetStringWidth(text) <= width {
		return text
	}
	for len(text) > 0 && pdf.GetStringWidth(text+"...") > width {
		text = text[:len(text)-1]
	}
	return text + "..."
}
