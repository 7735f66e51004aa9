package twilio

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ClareAI/astra-call-control/pkg/logger"
	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

// Twilio NTS tokens live 24 hours; refresh an hour early.
const refreshInterval = 23 * time.Hour

// tokenAPI is the part of the Twilio REST API used here.
type tokenAPI interface {
	CreateToken(params *api.CreateTokenParams) (*api.ApiV2010Token, error)
}

// ICEServer is one entry of an RTCPeerConnection iceServers list.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// TwilioTokenService fetches and caches TURN credentials from Twilio's Network
// Traversal Service for client SDK sessions.
type TwilioTokenService struct {
	api           tokenAPI
	stunServers   []string
	currentToken  *api.ApiV2010Token
	mutex         sync.RWMutex
	enabled       bool
	refreshTicker *time.Ticker
	stopChan      chan struct{}
	stopOnce      sync.Once
}

// NewTwilioTokenService creates a new Twilio token service.
// If accountSID or authToken is empty, only the static STUN servers are served.
func NewTwilioTokenService(accountSID, authToken string, stunServers []string, enableAutoRefresh bool) *TwilioTokenService {
	if accountSID == "" || authToken == "" {
		logger.Base().Warn("Twilio credentials not provided, TURN service disabled")
		return &TwilioTokenService{enabled: false, stunServers: stunServers}
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{Username: accountSID, Password: authToken})
	return newService(client.Api, stunServers, enableAutoRefresh)
}

func newService(tokens tokenAPI, stunServers []string, enableAutoRefresh bool) *TwilioTokenService {
	service := &TwilioTokenService{
		api:         tokens,
		stunServers: stunServers,
		enabled:     true,
		stopChan:    make(chan struct{}),
	}

	// Initial failure is not fatal; GetICEServers retries on demand.
	if err := service.RefreshToken(); err != nil {
		logger.Base().Error("Failed to fetch initial Twilio token", zap.Error(err))
	}

	if enableAutoRefresh {
		service.StartAutoRefresh()
	}

	return service
}

// RefreshToken fetches a new token from Twilio API
func (s *TwilioTokenService) RefreshToken() error {
	if !s.enabled {
		return fmt.Errorf("twilio token service is disabled")
	}

	resp, err := s.api.CreateToken(&api.CreateTokenParams{})
	if err != nil {
		return fmt.Errorf("failed to fetch twilio token: %w", err)
	}

	s.mutex.Lock()
	s.currentToken = resp
	s.mutex.Unlock()

	count := 0
	if resp.IceServers != nil {
		count = len(*resp.IceServers)
	}
	logger.Base().Info("Twilio TURN token refreshed", zap.Int("ice_servers", count))
	return nil
}

// GetICEServers returns the static STUN servers followed by Twilio's TURN servers.
// A missing token is fetched on demand so an outage at startup heals without a restart.
func (s *TwilioTokenService) GetICEServers() []ICEServer {
	servers := make([]ICEServer, 0, len(s.stunServers)+2)
	for _, url := range s.stunServers {
		servers = append(servers, ICEServer{URLs: []string{url}})
	}

	if !s.enabled {
		return servers
	}

	s.mutex.RLock()
	hasToken := s.currentToken != nil && s.currentToken.IceServers != nil
	s.mutex.RUnlock()

	if !hasToken {
		if err := s.RefreshToken(); err != nil {
			logger.Base().Warn("Twilio token unavailable, serving STUN only", zap.Error(err))
			return servers
		}
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if s.currentToken == nil || s.currentToken.IceServers == nil {
		return servers
	}
	for _, server := range *s.currentToken.IceServers {
		url := server.Url
		if url == "" {
			url = server.Urls
		}
		if !strings.HasPrefix(url, "turn") {
			continue
		}
		servers = append(servers, ICEServer{
			URLs:       []string{url},
			Username:   server.Username,
			Credential: server.Credential,
		})
	}

	return servers
}

// StartAutoRefresh refreshes the token every refreshInterval until Stop.
func (s *TwilioTokenService) StartAutoRefresh() {
	if !s.enabled {
		return
	}

	s.refreshTicker = time.NewTicker(refreshInterval)

	go func() {
		logger.Base().Info("Started Twilio token auto-refresh", zap.Duration("refresh_interval", refreshInterval))
		for {
			select {
			case <-s.refreshTicker.C:
				if err := s.RefreshToken(); err != nil {
					logger.Base().Error("Twilio token auto-refresh failed", zap.Error(err))
				}
			case <-s.stopChan:
				logger.Base().Info("Stopped Twilio token auto-refresh")
				return
			}
		}
	}()
}

// Stop stops the auto-refresh goroutine
func (s *TwilioTokenService) Stop() {
	if s.refreshTicker == nil {
		return
	}
	s.stopOnce.Do(func() {
		s.refreshTicker.Stop()
		close(s.stopChan)
	})
}

// IsEnabled returns whether TURN credentials are served
func (s *TwilioTokenService) IsEnabled() bool {
	return s.enabled
}
