package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/ClareAI/astra-call-control/internal/core/event"
	"github.com/ClareAI/astra-call-control/internal/services/call"
	"github.com/ClareAI/astra-call-control/pkg/logger"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// maxWebhookBody caps how much of a webhook body is read
const maxWebhookBody = 1 << 20

// EventHandler runs one signaling event to completion.
type EventHandler interface {
	Handle(ctx context.Context, ev event.Event) call.Result
}

// RTCEventHandler receives signaling webhooks from the platform
type RTCEventHandler struct {
	orchestrator EventHandler
}

// NewRTCEventHandler creates a new signaling webhook handler
func NewRTCEventHandler(orchestrator EventHandler) *RTCEventHandler {
	return &RTCEventHandler{orchestrator: orchestrator}
}

// SetupRTCRoutes sets up the signaling webhook route
func (h *RTCEventHandler) SetupRTCRoutes(router *mux.Router) {
	router.HandleFunc("/webhooks/rtc", h.handleEvent).Methods("POST")
}

// handleEvent always answers 200: the platform has no use for our failures and would
// only redeliver. Failures go to the orchestrator's sink instead.
func (h *RTCEventHandler) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		logger.Base().Warn("failed to read signaling webhook body", zap.Error(err))
		writeJSON(w, http.StatusOK, map[string]string{"status": string(call.StatusIgnored)})
		return
	}

	ev, err := event.Decode(body)
	if err != nil {
		logger.Base().Warn("malformed signaling event", zap.Error(err), zap.Int("size", len(body)))
		writeJSON(w, http.StatusOK, map[string]string{"status": string(call.StatusIgnored)})
		return
	}

	// Detached from the connection so a platform timeout does not abort a half-done sequence.
	res := h.orchestrator.Handle(context.WithoutCancel(r.Context()), ev)

	writeJSON(w, http.StatusOK, map[string]string{"status": string(res.Status)})
}
