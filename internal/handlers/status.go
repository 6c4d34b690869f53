package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"mail-notifier/internal/models"
	"mail-notifier/internal/services/poller"
)

// StatusSource reports per-account polling state.
type StatusSource interface {
	Statuses() []poller.AccountStatus
}

type StatusHandler struct {
	source  StatusSource
	started time.Time
	logger  *zap.Logger
}

func NewStatusHandler(source StatusSource, logger *zap.Logger) *StatusHandler {
	return &StatusHandler{
		source:  source,
		started: time.Now(),
		logger:  logger,
	}
}

type statusResponse struct {
	Status   string                 `json:"status"`
	Uptime   string                 `json:"uptime"`
	Accounts []poller.AccountStatus `json:"accounts"`
}

// HandleHealth always answers 200 while the process is serving.
func (h *StatusHandler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleStatus reports every account. The overall status is "degraded" when
// any account is not connected.
func (h *StatusHandler) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	accounts := h.source.Statuses()
	status := "ok"
	for _, a := range accounts {
		if a.State != models.Connected.String() {
			status = "degraded"
			break
		}
	}

	h.writeJSON(w, http.StatusOK, statusResponse{
		Status:   status,
		Uptime:   time.Since(h.started).Truncate(time.Second).String(),
		Accounts: accounts,
	})
}

func (h *StatusHandler) writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// NewRouter wires the status endpoints and the metrics exporter.
func NewRouter(h *StatusHandler, registry *prometheus.Registry) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health", h.HandleHealth).Methods(http.MethodGet)
	router.HandleFunc("/status", h.HandleStatus).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return router
}
