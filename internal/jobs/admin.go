package jobs

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"tokoku/internal/observability"
)

// QueueInspector reports queue depth. *asynq.Inspector satisfies it.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// QueueHealth is the /healthz body of the worker admin endpoint.
type QueueHealth struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
}

// AdminHandler exposes the worker's job metrics and queue health over HTTP.
type AdminHandler struct {
	inspector QueueInspector
	metrics   *observability.Metrics
	logger    *zap.Logger
}

func NewAdminHandler(inspector QueueInspector, metrics *observability.Metrics, logger *zap.Logger) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{inspector: inspector, metrics: metrics, logger: logger}
}

// Routes mounts GET /metrics and GET /healthz.
func (h *AdminHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	r.Get("/healthz", h.health)
	return r
}

func (h *AdminHandler) health(w http.ResponseWriter, _ *http.Request) {
	body := QueueHealth{Queue: QueueDefault}
	if h.inspector != nil {
		info, err := h.inspector.GetQueueInfo(QueueDefault)
		switch {
		case errors.Is(err, asynq.ErrQueueNotFound):
			// nothing has been enqueued yet
		case err != nil:
			h.logger.Warn("jobs health", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		case info != nil:
			body.Pending = info.Pending
			body.Active = info.Active
			body.Scheduled = info.Scheduled
			body.Retry = info.Retry
			body.Archived = info.Archived
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
}
