package handler

import (
	"net/http"

	"github.com/ClareAI/astra-call-control/pkg/logger"
	"github.com/ClareAI/astra-call-control/pkg/twilio"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// ICEServerProvider supplies ICE servers for client SDK sessions
type ICEServerProvider interface {
	GetICEServers() []twilio.ICEServer
}

// WebRTCConfigHandler handles WebRTC configuration endpoints
type WebRTCConfigHandler struct {
	provider ICEServerProvider
}

// WebRTCConfigResponse represents the WebRTC configuration response
type WebRTCConfigResponse struct {
	ICEServers           []twilio.ICEServer `json:"iceServers"`
	ICECandidatePoolSize int                `json:"iceCandidatePoolSize"`
}

// NewWebRTCConfigHandler creates a new WebRTC config handler
func NewWebRTCConfigHandler(provider ICEServerProvider) *WebRTCConfigHandler {
	return &WebRTCConfigHandler{provider: provider}
}

// SetupWebRTCConfigRoutes sets up routes for WebRTC configuration
func (h *WebRTCConfigHandler) SetupWebRTCConfigRoutes(router *mux.Router) {
	router.HandleFunc("/ice-servers", h.getWebRTCConfig).Methods("GET")
}

func (h *WebRTCConfigHandler) getWebRTCConfig(w http.ResponseWriter, r *http.Request) {
	servers := h.provider.GetICEServers()

	logger.Base().Debug("WebRTC config requested", zap.Int("ice_servers", len(servers)))
	writeJSON(w, http.StatusOK, WebRTCConfigResponse{
		ICEServers:           servers,
		ICECandidatePoolSize: 10,
	})
}
