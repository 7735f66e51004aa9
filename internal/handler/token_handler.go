package handler

import (
	"net/http"

	"github.com/ClareAI/astra-call-control/pkg/logger"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// TokenIssuer mints backend and client SDK tokens
type TokenIssuer interface {
	BackendToken() (string, error)
	UserToken(username string) (string, error)
}

// TokenHandler serves token endpoints
type TokenHandler struct {
	issuer TokenIssuer
}

// TokenResponse is the body of every token endpoint
type TokenResponse struct {
	Token string `json:"token"`
}

// NewTokenHandler creates a new token handler. A nil issuer answers 503.
func NewTokenHandler(issuer TokenIssuer) *TokenHandler {
	return &TokenHandler{issuer: issuer}
}

// SetupTokenRoutes sets up token routes
func (h *TokenHandler) SetupTokenRoutes(router *mux.Router) {
	router.HandleFunc("/token", h.backendToken).Methods("GET")
	router.HandleFunc("/token/{username}", h.userToken).Methods("GET")
}

func (h *TokenHandler) backendToken(w http.ResponseWriter, r *http.Request) {
	if h.issuer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "token generation is not configured"})
		return
	}

	logger.Base().Info("generating backend token")
	token, err := h.issuer.BackendToken()
	if err != nil {
		logger.Base().Error("failed to generate backend token", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{Token: token})
}

func (h *TokenHandler) userToken(w http.ResponseWriter, r *http.Request) {
	if h.issuer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "token generation is not configured"})
		return
	}

	username := mux.Vars(r)["username"]
	logger.Base().Info("generating user token", zap.String("username", username))
	token, err := h.issuer.UserToken(username)
	if err != nil {
		logger.Base().Error("failed to generate user token", zap.String("username", username), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{Token: token})
}
