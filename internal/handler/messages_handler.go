package handler

import (
	"io"
	"net/http"

	"github.com/ClareAI/astra-call-control/internal/services/messages"
	"github.com/ClareAI/astra-call-control/pkg/logger"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// MessagesHandler handles inbound message and message status webhooks
type MessagesHandler struct {
	router *messages.Router
}

// NewMessagesHandler creates a new messages webhook handler
func NewMessagesHandler(router *messages.Router) *MessagesHandler {
	return &MessagesHandler{router: router}
}

// SetupMessagesRoutes sets up message webhook routes
func (h *MessagesHandler) SetupMessagesRoutes(router *mux.Router) {
	router.HandleFunc("/webhooks/messages/inbound", h.handleInbound).Methods("POST")
	router.HandleFunc("/webhooks/messages/status", h.handleStatus).Methods("POST")
}

func (h *MessagesHandler) handleInbound(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}

	in, err := messages.Decode(body)
	if err != nil {
		logger.Base().Warn("malformed inbound message", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	actions := h.router.Route(in)
	logger.Base().Info("inbound message routed",
		zap.String("channel", in.Channel),
		zap.String("user", actions[0].User),
	)
	writeJSON(w, http.StatusOK, actions)
}

func (h *MessagesHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	logger.Base().Debug("message status received", zap.ByteString("body", body))
	w.WriteHeader(http.StatusOK)
}
