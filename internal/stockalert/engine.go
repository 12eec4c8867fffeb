package stockalert

import (
	"math"
	"slices"
	"time"

	"tokoku/internal/domain"
)

const (
	ReasonOutOfStock     = "out_of_stock"
	ReasonBelowThreshold = "below_threshold"
	ReasonLowCover       = "low_cover"
)

// Engine flags products that are running out, either by absolute count or
// by how many days the current stock lasts at the recent sales rate.
type Engine struct {
	threshold    int
	minCoverDays float64
}

func NewEngine(threshold int, minCoverDays float64) *Engine {
	if threshold < 0 {
		threshold = 5
	}
	if minCoverDays <= 0 {
		minCoverDays = 3
	}
	return &Engine{threshold: threshold, minCoverDays: minCoverDays}
}

// Evaluate looks at active products only. recentSales should cover the
// window ending now; it drives the velocity estimate.
func (e *Engine) Evaluate(products []domain.Product, recentSales []domain.Sale, window time.Duration) []domain.StockAlert {
	windowDays := window.Hours() / 24
	if windowDays <= 0 {
		windowDays = 1
	}

	sold := make(map[string]int, len(products))
	for _, sale := range recentSales {
		sold[sale.ProductID] += sale.Quantity
	}

	alerts := make([]domain.StockAlert, 0, 8)
	for _, product := range products {
		if !product.Active {
			continue
		}

		velocity := float64(sold[product.ID]) / windowDays
		cover := 0.0
		if velocity > 0 {
			cover = round2(float64(product.StockQty) / velocity)
		}

		reason := deriveReason(product.StockQty, e.threshold, velocity, cover, e.minCoverDays)
		if reason == "" {
			continue
		}

		severity := domain.AlertSeverityWarning
		if reason == ReasonOutOfStock {
			severity = domain.AlertSeverityCritical
		}
		alerts = append(alerts, domain.StockAlert{
			ProductID:    product.ID,
			Number:       product.Number,
			Name:         product.Name,
			StockQty:     product.StockQty,
			SoldInWindow: sold[product.ID],
			DaysOfCover:  cover,
			Severity:     severity,
			ReasonCode:   reason,
		})
	}

	slices.SortFunc(alerts, func(a, b domain.StockAlert) int {
		if a.Severity != b.Severity {
			if a.Severity == domain.AlertSeverityCritical {
				return -1
			}
			return 1
		}
		if a.DaysOfCover != b.DaysOfCover {
			if a.DaysOfCover < b.DaysOfCover {
				return -1
			}
			return 1
		}
		if a.Name < b.Name {
			return -1
		}
		if a.Name > b.Name {
			return 1
		}
		return 0
	})
	return alerts
}

func deriveReason(stock int, threshold int, velocity float64, cover float64, minCoverDays float64) string {
	switch {
	case stock <= 0:
		return ReasonOutOfStock
	case stock <= threshold:
		return ReasonBelowThreshold
	case velocity > 0 && cover < minCoverDays:
		return ReasonLowCover
	default:
		return ""
	}
}

func round2(val float64) float64 {
	return math.Round(val*100) / 100
}
