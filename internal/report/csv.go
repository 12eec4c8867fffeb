package report

import (
	"encoding/csv"
	"io"
	"strconv"
)

var salesColumns = []string{"Sale ID", "Product", "Quantity", "Unit Price", "Total Price", "Sold At"}

// WriteCSV emits one row per sale under a fixed header.
func WriteCSV(w io.Writer, r Report) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write(salesColumns); err != nil {
		return err
	}
	for _, sale := range r.Sales {
		if err := writer.Write([]string{
			sale.ID,
			sale.ProductName,
			strconv.Itoa(sale.Quantity),
			sale.UnitPrice.StringFixed(2),
			sale.TotalPrice.StringFixed(2),
			r.soldAt(sale),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
