package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ClareAI/astra-call-control/internal/config"
	"github.com/ClareAI/astra-call-control/internal/handler"
	"github.com/ClareAI/astra-call-control/pkg/logger"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// shutdownTimeout bounds how long in-flight webhooks get to finish on SIGTERM
const shutdownTimeout = 20 * time.Second

// Server represents the call control server
type Server struct {
	config         *config.CallControlConfig
	router         *mux.Router
	handlerManager *handler.HandlerManager
	httpServer     *http.Server
}

// NewServer creates a new call control server
func NewServer(cfg *config.CallControlConfig) (*Server, error) {
	router := mux.NewRouter()

	handlerManager, err := handler.NewHandlerManager(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize handler manager: %w", err)
	}

	handlerManager.SetupAllRoutes(router)

	return &Server{
		config:         cfg,
		router:         router,
		handlerManager: handlerManager,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%s", cfg.Port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: cfg.OrchestrationTimeout + 15*time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}, nil
}

// Start starts the server and blocks until it stops. After Shutdown it returns http.ErrServerClosed.
func (s *Server) Start() error {
	logger.Base().Info("Starting server", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests and releases backends
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.handlerManager.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func main() {
	// Load .env file for local development if it exists.
	// This will not override environment variables already set.
	if err := godotenv.Load(); err != nil {
		log.Printf("Info: .env file not found or skipped (expected in production): %v", err)
	}

	logEnv := os.Getenv("LOG_ENV")
	if _, err := logger.InitWithFile(logEnv, logger.FileOptions{Path: os.Getenv("LOG_FILE")}); err != nil {
		log.Printf("Failed to initialize zap logger, falling back to development logger: %v", err)
	}
	defer logger.Sync()

	cfg := config.LoadFromEnv()

	server, err := NewServer(cfg)
	if err != nil {
		logger.Base().Fatal("Failed to create server", zap.Error(err))
	}
	logger.Base().Info("Server initialized",
		zap.String("port", cfg.Port),
		zap.String("instance_id", cfg.InstanceID))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Base().Fatal("Server failed", zap.Error(err))
		}
	case sig := <-stop:
		logger.Base().Info("Shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Base().Error("Shutdown finished with errors", zap.Error(err))
	}
}
