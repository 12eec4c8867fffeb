package httpapi

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"tokoku/internal/domain"
	"tokoku/internal/report"
)

// handleListProducts also answers GET /products?number=, returning the one
// product with that number.
func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if number := strings.TrimSpace(q.Get("number")); number != "" {
		product, err := a.service.GetProductByNumber(r.Context(), number)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, product)
		return
	}
	var (
		products []domain.Product
		err      error
	)
	if query := strings.TrimSpace(q.Get("q")); query != "" {
		products, err = a.service.SearchProducts(r.Context(), query)
	} else {
		products, err = a.service.ListProducts(r.Context(), parseBool(q.Get("include_inactive")))
	}
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	product, err := a.service.CreateProduct(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, product)
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	product, err := a.service.UpdateProduct(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (a *API) handleDeactivateProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.DeactivateProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (a *API) handleActivateProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.ActivateProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (a *API) handleAdjustStock(w http.ResponseWriter, r *http.Request) {
	var req domain.StockAdjustRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	product, err := a.service.AdjustStock(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (a *API) handleCompleteSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	resp, err := a.service.CompleteSale(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.ListSales(r.Context(), reportQuery(r))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetSale(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleDeleteSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.DeleteSale(r.Context(), chi.URLParam(r, "id"), parseBool(r.URL.Query().Get("restock")))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleBulkDeleteSales(w http.ResponseWriter, r *http.Request) {
	if !a.pinLimiter.Allow(a.pinKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many manager PIN attempts"))
		return
	}
	var req domain.BulkDeleteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	resp, err := a.service.DeleteSales(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleClearSales(w http.ResponseWriter, r *http.Request) {
	if !a.pinLimiter.Allow(a.pinKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many manager PIN attempts"))
		return
	}
	var req domain.ClearSalesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	resp, err := a.service.ClearSales(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSalesReport serves the period report as a download, or as the
// sales listing when format is json or empty.
func (a *API) handleSalesReport(w http.ResponseWriter, r *http.Request) {
	query := reportQuery(r)
	raw := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if raw == "" || raw == "json" {
		a.handleListSales(w, r)
		return
	}

	format, err := report.ParseFormat(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var buf bytes.Buffer
	name, err := a.service.ExportReport(r.Context(), query, format, &buf)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (a *API) handleEnqueueExport(w http.ResponseWriter, r *http.Request) {
	if a.exports == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("export queue is not configured"))
		return
	}
	var req domain.ExportRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if len(req.Formats) == 0 {
		req.Formats = []string{string(report.FormatCSV), string(report.FormatXLSX), string(report.FormatPDF)}
	}
	for _, f := range req.Formats {
		if _, err := report.ParseFormat(f); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if _, err := a.service.ResolvePeriod(req.ReportQuery); err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	taskID, err := a.exports.EnqueueExport(r.Context(), req)
	if err != nil {
		a.logger.Error("enqueue export failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, errors.New("export queue unavailable"))
		return
	}
	writeJSON(w, http.StatusAccepted, domain.ExportResponse{TaskID: taskID})
}

func (a *API) handleLowStock(w http.ResponseWriter, r *http.Request) {
	alerts, err := a.service.LowStockAlerts(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)

	logs, err := a.service.ListAuditLogs(r.Context(), date, limit)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func reportQuery(r *http.Request) domain.ReportQuery {
	q := r.URL.Query()
	return domain.ReportQuery{
		Period: q.Get("period"),
		From:   q.Get("from"),
		To:     q.Get("to"),
		AsOf:   q.Get("as_of"),
	}
}
