package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	httpadapter "github.com/ClareAI/astra-call-control/internal/adapters/http"
	"github.com/ClareAI/astra-call-control/internal/config"
	"github.com/ClareAI/astra-call-control/internal/core/session"
	"github.com/ClareAI/astra-call-control/internal/repository"
	"github.com/ClareAI/astra-call-control/internal/services/call"
	"github.com/ClareAI/astra-call-control/internal/services/messages"
	"github.com/ClareAI/astra-call-control/internal/services/proxy"
	"github.com/ClareAI/astra-call-control/internal/services/token"
	"github.com/ClareAI/astra-call-control/pkg/logger"
	"github.com/ClareAI/astra-call-control/pkg/pubsub"
	"github.com/ClareAI/astra-call-control/pkg/redis"
	"github.com/ClareAI/astra-call-control/pkg/twilio"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// legSweepInterval is how often the in-memory leg store drops expired records
const legSweepInterval = time.Minute

// HandlerManager manages all handlers and their initialization
type HandlerManager struct {
	config       *config.CallControlConfig
	tokens       *token.Generator
	orchestrator *call.Orchestrator
	proxy        *proxy.Service
	router       *messages.Router
	iceServers   *twilio.TwilioTokenService
	failures     *repository.FailureRepository
	storeName    string

	redisSvc *redis.RedisService
	db       *gorm.DB
	pubsub   *pubsub.PubSubService
	cancel   context.CancelFunc
}

// NewHandlerManager creates and initializes all handlers and services.
// Optional backends (redis, database, pub/sub) that fail to initialize are logged and skipped.
func NewHandlerManager(cfg *config.CallControlConfig) (*HandlerManager, error) {
	ctx, cancel := context.WithCancel(context.Background())
	hm := &HandlerManager{config: cfg, cancel: cancel}

	// Tokens: the control plane cannot be reached without them, but the webhook surface
	// still starts so misconfiguration shows up in the failure sink rather than as a crash loop.
	if key, err := cfg.PrivateKey(); err != nil {
		logger.Base().Warn("application private key unavailable, token generation disabled", zap.Error(err))
	} else if gen, err := token.NewGenerator(cfg.ApplicationID, key, cfg.TokenTTL); err != nil {
		logger.Base().Warn("token generation disabled", zap.Error(err))
	} else {
		hm.tokens = gen
	}

	client := httpadapter.NewControlPlaneClient(cfg.ControlPlaneBaseURL, hm.tokenSource(),
		httpadapter.WithTimeout(cfg.ControlPlaneTimeout),
		httpadapter.WithRateLimit(cfg.ControlPlaneRPS, cfg.ControlPlaneBurst),
	)

	sinks := call.MultiSink{call.LogSink{}}

	var store session.Store
	if cfg.Redis.Enabled() {
		redisSvc, err := redis.NewRedisService(&redis.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			logger.Base().Warn("failed to initialize redis service, leg state kept in memory", zap.Error(err))
		} else {
			hm.redisSvc = redisSvc
			store = session.NewRedisStore(redisSvc, cfg.LegStateTTL)
			sinks = append(sinks, call.NewPublishSink(redisSvc, string(redis.FAILURE_CHANNEL), cfg.InstanceID))
			hm.storeName = "redis"
		}
	}
	if store == nil {
		memStore := session.NewMemoryStore(cfg.LegStateTTL)
		go memStore.StartCleanupRoutine(ctx, legSweepInterval)
		store = memStore
		hm.storeName = "memory"
	}

	if cfg.Database.Enabled() {
		db, err := repository.NewDatabaseConnection(cfg.Database)
		if err == nil {
			err = repository.AutoMigrate(db)
			if err != nil {
				_ = repository.Close(db)
			}
		}
		if err != nil {
			logger.Base().Warn("failed to initialize failure ledger, continuing without it", zap.Error(err))
		} else {
			hm.db = db
			hm.failures = repository.NewFailureRepository(db)
			sinks = append(sinks, call.NewRepositorySink(hm.failures, cfg.InstanceID))
		}
	}

	var notifier call.Notifier
	if cfg.PubSubProjectID != "" {
		ps, err := pubsub.NewPubSubService(ctx, &pubsub.PubSubConfig{
			ProjectID: cfg.PubSubProjectID,
			TopicName: cfg.PubSubTopic,
			PubID:     cfg.PubSubPubID,
		})
		if err != nil {
			logger.Base().Warn("failed to initialize pubsub, lifecycle notifications disabled", zap.Error(err))
		} else {
			hm.pubsub = ps
			notifier = call.NewTopicNotifier(ps)
		}
	}

	hm.orchestrator = call.NewOrchestrator(call.SettingsFromConfig(cfg), client, store, sinks, notifier)
	hm.proxy = proxy.NewService(client)
	hm.router = messages.NewRouter(cfg)
	hm.iceServers = twilio.NewTwilioTokenService(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.STUNServers, true)

	logger.Base().Info("call control initialized",
		zap.String("control_plane", cfg.ControlPlaneBaseURL),
		zap.String("leg_store", hm.storeName),
		zap.Bool("failure_ledger", hm.failures != nil),
		zap.Bool("lifecycle_notifications", hm.pubsub != nil),
		zap.Bool("tokens", hm.tokens != nil),
	)

	return hm, nil
}

// tokenSource hands the control-plane client a backend token per request
func (hm *HandlerManager) tokenSource() httpadapter.TokenSource {
	return func() (string, error) {
		if hm.tokens == nil {
			return "", httpadapter.ErrTokenUnavailable
		}
		return hm.tokens.BackendToken()
	}
}

// SetupAllRoutes sets up all routes with middleware
func (hm *HandlerManager) SetupAllRoutes(router *mux.Router) {
	router.Use(RecoveryMiddleware)
	if hm.config.EnableCORS {
		router.Use(CORSMiddleware)
	}
	router.Use(GlobalLoggingMiddleware)

	var backend Pinger
	if hm.redisSvc != nil {
		backend = hm.redisSvc
	}
	NewHealthHandler(hm.config.InstanceID, hm.storeName, backend).SetupHealthRoutes(router)
	NewRTCEventHandler(hm.orchestrator).SetupRTCRoutes(router)
	NewMessagesHandler(hm.router).SetupMessagesRoutes(router)
	NewProxyHandler(hm.proxy).SetupProxyRoutes(router)
	NewWebRTCConfigHandler(hm.iceServers).SetupWebRTCConfigRoutes(router)

	var issuer TokenIssuer
	if hm.tokens != nil {
		issuer = hm.tokens
	}
	NewTokenHandler(issuer).SetupTokenRoutes(router)

	if hm.failures != nil {
		NewFailuresHandler(hm.failures).SetupFailureRoutes(router)
	}

	// Preflight for every path
	router.PathPrefix("/").HandlerFunc(handleCORS).Methods("OPTIONS")

	logger.Base().Info("all application routes registered")
}

// Close releases every backend opened by NewHandlerManager
func (hm *HandlerManager) Close() error {
	hm.cancel()
	hm.iceServers.Stop()

	var errs []error
	if hm.pubsub != nil {
		if err := hm.pubsub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("pubsub: %w", err))
		}
	}
	if hm.redisSvc != nil {
		if err := hm.redisSvc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if hm.db != nil {
		if err := repository.Close(hm.db); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}

	return errors.Join(errs...)
}
