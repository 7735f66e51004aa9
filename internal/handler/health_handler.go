package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/ClareAI/astra-call-control/pkg/logger"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Pinger is a backend the health check probes
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler answers liveness probes
type HealthHandler struct {
	instanceID string
	store      string
	backend    Pinger
}

// NewHealthHandler creates a new health handler. backend may be nil.
func NewHealthHandler(instanceID, store string, backend Pinger) *HealthHandler {
	return &HealthHandler{instanceID: instanceID, store: store, backend: backend}
}

// SetupHealthRoutes sets up the health route
func (h *HealthHandler) SetupHealthRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.health).Methods("GET")
}

func (h *HealthHandler) health(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{
		"status":      "ok",
		"instance_id": h.instanceID,
		"leg_store":   h.store,
	}

	if h.backend != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.backend.Ping(ctx); err != nil {
			logger.Base().Warn("health check: leg store unreachable", zap.Error(err))
			body["status"] = "degraded"
			writeJSON(w, http.StatusServiceUnavailable, body)
			return
		}
	}

	writeJSON(w, http.StatusOK, body)
}
