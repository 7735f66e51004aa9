package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	httpadapter "github.com/ClareAI/astra-call-control/internal/adapters/http"
	"github.com/ClareAI/astra-call-control/pkg/logger"
	"go.uber.org/zap"
)

const conversationsPath = "/v0.3/conversations"

// conversationList is the part of a conversation listing used for name resolution.
type conversationList struct {
	Embedded struct {
		Conversations []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"conversations"`
	} `json:"_embedded"`
}

// Service forwards read-only lookups to the control plane, resolving
// conversation names to ids where a route carries a name.
type Service struct {
	client httpadapter.ControlPlane
}

func NewService(client httpadapter.ControlPlane) *Service {
	return &Service{client: client}
}

// ResolveConversationID looks a conversation up by name. Anything but exactly one
// match is a not-found error.
func (s *Service) ResolveConversationID(ctx context.Context, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", badInput("conversation name is required")
	}

	resp, err := s.client.Do(ctx, httpadapter.Request{
		Method: http.MethodGet,
		Path:   conversationsPath,
		Query:  url.Values{"name": {name}},
	})
	if err != nil {
		return "", err
	}

	var list conversationList
	if err := resp.Decode(&list); err != nil {
		return "", fmt.Errorf("failed to read conversation list: %w", err)
	}

	matches := list.Embedded.Conversations
	if len(matches) != 1 {
		logger.Base().Debug("Conversation name did not resolve",
			zap.String("name", name),
			zap.Int("matches", len(matches)))
		return "", conversationNotFound(name, len(matches))
	}
	return matches[0].ID, nil
}

// ListConversations forwards a conversation listing with the caller's query.
func (s *Service) ListConversations(ctx context.Context, query url.Values) (json.RawMessage, error) {
	return s.get(ctx, conversationsPath, query)
}

// GetConversation returns the conversation called name.
func (s *Service) GetConversation(ctx context.Context, name string, query url.Values) (json.RawMessage, error) {
	return s.getByName(ctx, name, "", query)
}

// ListEvents returns the events of the conversation called name.
func (s *Service) ListEvents(ctx context.Context, name string, query url.Values) (json.RawMessage, error) {
	return s.getByName(ctx, name, "/events", query)
}

// ListMembers returns the members of the conversation called name.
func (s *Service) ListMembers(ctx context.Context, name string, query url.Values) (json.RawMessage, error) {
	return s.getByName(ctx, name, "/members", query)
}

// GetMember returns one member of the conversation called name.
func (s *Service) GetMember(ctx context.Context, name, memberID string) (json.RawMessage, error) {
	if strings.TrimSpace(memberID) == "" {
		return nil, badInput("member id is required")
	}
	return s.getByName(ctx, name, "/members/"+url.PathEscape(memberID), nil)
}

func (s *Service) getByName(ctx context.Context, name, suffix string, query url.Values) (json.RawMessage, error) {
	id, err := s.ResolveConversationID(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.get(ctx, conversationsPath+"/"+url.PathEscape(id)+suffix, query)
}

func (s *Service) get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	resp, err := s.client.Do(ctx, httpadapter.Request{
		Method: http.MethodGet,
		Path:   path,
		Query:  query,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Body) == 0 {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(resp.Body), nil
}
