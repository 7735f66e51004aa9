package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	httpadapter "github.com/ClareAI/astra-call-control/internal/adapters/http"
	"github.com/ClareAI/astra-call-control/pkg/logger"
	goerrors "github.com/goliatone/go-errors"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// ConversationLookup is the read-only view of the control plane exposed to clients
type ConversationLookup interface {
	ListConversations(ctx context.Context, query url.Values) (json.RawMessage, error)
	GetConversation(ctx context.Context, name string, query url.Values) (json.RawMessage, error)
	ListEvents(ctx context.Context, name string, query url.Values) (json.RawMessage, error)
	ListMembers(ctx context.Context, name string, query url.Values) (json.RawMessage, error)
	GetMember(ctx context.Context, name, memberID string) (json.RawMessage, error)
}

// ProxyHandler forwards conversation lookups to the control plane
type ProxyHandler struct {
	lookup ConversationLookup
}

// NewProxyHandler creates a new conversation proxy handler
func NewProxyHandler(lookup ConversationLookup) *ProxyHandler {
	return &ProxyHandler{lookup: lookup}
}

// SetupProxyRoutes sets up conversation lookup routes
func (h *ProxyHandler) SetupProxyRoutes(router *mux.Router) {
	router.HandleFunc("/conversations", h.listConversations).Methods("GET")
	router.HandleFunc("/conversations/{name}", h.getConversation).Methods("GET")
	router.HandleFunc("/conversations/{name}/events", h.listEvents).Methods("GET")
	router.HandleFunc("/conversations/{name}/members", h.listMembers).Methods("GET")
	router.HandleFunc("/conversations/{name}/members/{memberId}", h.getMember).Methods("GET")
}

func (h *ProxyHandler) listConversations(w http.ResponseWriter, r *http.Request) {
	body, err := h.lookup.ListConversations(r.Context(), r.URL.Query())
	h.respond(w, r, body, err)
}

func (h *ProxyHandler) getConversation(w http.ResponseWriter, r *http.Request) {
	body, err := h.lookup.GetConversation(r.Context(), mux.Vars(r)["name"], r.URL.Query())
	h.respond(w, r, body, err)
}

func (h *ProxyHandler) listEvents(w http.ResponseWriter, r *http.Request) {
	body, err := h.lookup.ListEvents(r.Context(), mux.Vars(r)["name"], r.URL.Query())
	h.respond(w, r, body, err)
}

func (h *ProxyHandler) listMembers(w http.ResponseWriter, r *http.Request) {
	body, err := h.lookup.ListMembers(r.Context(), mux.Vars(r)["name"], r.URL.Query())
	h.respond(w, r, body, err)
}

func (h *ProxyHandler) getMember(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	body, err := h.lookup.GetMember(r.Context(), vars["name"], vars["memberId"])
	h.respond(w, r, body, err)
}

func (h *ProxyHandler) respond(w http.ResponseWriter, r *http.Request, body json.RawMessage, err error) {
	if err != nil {
		status, payload := proxyErrorResponse(err)
		logger.Base().Warn("conversation lookup failed",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
		writeJSON(w, status, payload)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// proxyErrorResponse maps a lookup error to a status and an {"error": ...} body.
// Upstream rejections keep the upstream status and body. Local failures carry their own
// code, and anything else is a 500 with the error text.
func proxyErrorResponse(err error) (int, map[string]interface{}) {
	var apiErr *httpadapter.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status, map[string]interface{}{"error": upstreamBody(apiErr.Body)}
	}

	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.Code != 0 {
		return rich.Code, map[string]interface{}{
			"error": map[string]string{"message": rich.Message},
		}
	}

	return http.StatusInternalServerError, map[string]interface{}{"error": err.Error()}
}

// upstreamBody returns the body as JSON when it is JSON, otherwise as a string.
func upstreamBody(body []byte) interface{} {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	return string(body)
}
