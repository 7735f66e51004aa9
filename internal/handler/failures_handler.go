package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/ClareAI/astra-call-control/internal/domain"
	"github.com/gorilla/mux"
)

// FailureLister reads the orchestration failure ledger
type FailureLister interface {
	List(ctx context.Context, legID string, limit int) ([]*domain.OrchestrationFailure, error)
}

// FailuresHandler exposes recent orchestration failures to operators
type FailuresHandler struct {
	failures FailureLister
}

// NewFailuresHandler creates a new failures handler
func NewFailuresHandler(failures FailureLister) *FailuresHandler {
	return &FailuresHandler{failures: failures}
}

// SetupFailureRoutes sets up failure ledger routes
func (h *FailuresHandler) SetupFailureRoutes(router *mux.Router) {
	router.HandleFunc("/failures", h.listFailures).Methods("GET")
}

func (h *FailuresHandler) listFailures(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	failures, err := h.failures.List(r.Context(), r.URL.Query().Get("leg_id"), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if failures == nil {
		failures = []*domain.OrchestrationFailure{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"failures": failures})
}
