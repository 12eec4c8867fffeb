package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Metrics owns a private registry with the HTTP, sales, export and job
// collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	salesCompleted  prometheus.Counter
	revenue         prometheus.Counter
	saleRejections  *prometheus.CounterVec
	reportExports   *prometheus.CounterVec
	jobRuns         *prometheus.CounterVec
	jobFailures     *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tokoku_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tokoku_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	salesCompleted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tokoku_sales_completed_total",
		Help: "Sales committed to the store.",
	})
	revenue := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tokoku_sales_revenue_total",
		Help: "Sum of committed sale totals in shop currency.",
	})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tokoku_sale_rejections_total",
		Help: "Sales refused before commit, by reason.",
	}, []string{"reason"})
	exports := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tokoku_report_exports_total",
		Help: "Report files produced, by format and status.",
	}, []string{"format", "status"})
	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tokoku_jobs_total",
		Help: "Background job executions by job name and status.",
	}, []string{"job", "status"})
	jobFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tokoku_jobs_failures_total",
		Help: "Background job failures.",
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tokoku_job_duration_seconds",
		Help:    "Background job duration.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	registry.MustRegister(requests, duration, salesCompleted, revenue, rejections, exports, jobRuns, jobFailures, jobDuration)

	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		salesCompleted:  salesCompleted,
		revenue:         revenue,
		saleRejections:  rejections,
		reportExports:   exports,
		jobRuns:         jobRuns,
		jobFailures:     jobFailures,
		jobDuration:     jobDuration,
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

func (m *Metrics) SaleCompleted(total decimal.Decimal) {
	if m == nil {
		return
	}
	m.salesCompleted.Inc()
	m.revenue.Add(total.InexactFloat64())
}

func (m *Metrics) SaleRejected(reason string) {
	if m == nil {
		return
	}
	m.saleRejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) ReportExported(format string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.reportExports.WithLabelValues(format, status).Inc()
}

// Tracker instruments a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End records the run and returns err untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.jobFailures.WithLabelValues(t.job).Inc()
	}
	t.metrics.jobRuns.WithLabelValues(t.job, status).Inc()
	t.metrics.jobDuration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush keeps streaming responses working behind the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
