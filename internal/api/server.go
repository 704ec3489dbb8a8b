// Package api is the operator HTTP surface: scan triggers, status polls, source listings and
// scoring and filter configuration.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	infraconfig "github.com/jonesrussell/north-cloud/opportunity-finder/infrastructure/config"
	infralogger "github.com/jonesrussell/north-cloud/opportunity-finder/infrastructure/logger"
)

const shutdownTimeout = 30 * time.Second

// Server wraps the gin engine with lifecycle management.
type Server struct {
	engine *gin.Engine
	server *http.Server
	logger infralogger.Logger
}

// NewServer builds the engine with standard middleware and the operator routes.
func NewServer(cfg infraconfig.ServerConfig, debug bool, handler *Handler, logger infralogger.Logger) *Server {
	log := logger.With(infralogger.Component("api"))

	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(recoveryMiddleware(log), requestIDMiddleware(log), loggerMiddleware(log))
	SetupRoutes(engine, handler)

	return &Server{
		engine: engine,
		server: &http.Server{
			Addr:         cfg.Address(),
			Handler:      engine,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		logger: log,
	}
}

// Engine returns the gin engine.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", infralogger.String("address", s.server.Addr))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server error: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}
