package report

import (
	"io"

	"github.com/xuri/excelize/v2"
)

const salesSheet = "Sales"

// WriteXLSX writes a single-sheet workbook with a styled header, currency
// formatted price cells and a totals row when there is at least one sale.
func WriteXLSX(w io.Writer, r Report) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", salesSheet); err != nil {
		return err
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return err
	}
	numFmt := `#,##0.00`
	if r.Currency != "" {
		numFmt = `"` + r.Currency + ` "#,##0.00`
	}
	moneyStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: &numFmt})
	if err != nil {
		return err
	}
	totalStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}, CustomNumFmt: &numFmt})
	if err != nil {
		return err
	}

	header := make([]any, len(salesColumns))
	for i, col := range salesColumns {
		header[i] = col
	}
	if err := f.SetSheetRow(salesSheet, "A1", &header); err != nil {
		return err
	}
	if err := f.SetCellStyle(salesSheet, "A1", "F1", headerStyle); err != nil {
		return err
	}

	row := 2
	for _, sale := range r.Sales {
		values := []any{
			sale.ID,
			sale.ProductName,
			sale.Quantity,
			sale.UnitPrice.InexactFloat64(),
			sale.TotalPrice.InexactFloat64(),
			r.soldAt(sale),
		}
		if err := f.SetSheetRow(salesSheet, cellName(1, row), &values); err != nil {
			return err
		}
		row++
	}

	if len(r.Sales) > 0 {
		if err := f.SetCellStyle(salesSheet, "D2", cellName(5, row-1), moneyStyle); err != nil {
			return err
		}
		totals := []any{"Total", "", r.Summary.TotalQuantity, "", r.Summary.Revenue.InexactFloat64()}
		if err := f.SetSheetRow(salesSheet, cellName(1, row), &totals); err != nil {
			return err
		}
		if err := f.SetCellStyle(salesSheet, cellName(1, row), cellName(5, row), totalStyle); err != nil {
			return err
		}
	}

	for col, width := range map[string]float64{"A": 44, "B": 32, "C": 10, "D": 16, "E": 16, "F": 20} {
		if err := f.SetColWidth(salesSheet, col, col, width); err != nil {
			return err
		}
	}

	return f.Write(w)
}

func cellName(col int, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}
