// Package httpapi provides the orchestrator's read-only observability
// surface: a health check and a current-PackML-state snapshot, both
// served alongside the MQTT control plane without ever accepting a
// command of their own.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aausmartlab/btorchestrator/internal/common/httpmw"
	"github.com/aausmartlab/btorchestrator/internal/common/logger"
	"github.com/aausmartlab/btorchestrator/internal/packml"
)

// StateReporter is the minimal view Server needs onto the running
// controller: its current PackML state.
type StateReporter interface {
	CurrentState() packml.State
}

// Server serves GET /healthz and GET /state over HTTP. Both are
// read-only: neither route can drive a PackML transition, preserving the
// invariant that only MQTT command topics do.
type Server struct {
	httpServer *http.Server
	logger     *logger.Logger
}

// New builds a Server bound to addr (host:port), reporting controller's
// state at GET /state. debugMode mirrors the teacher's habit of gating
// gin's release mode on the configured log level.
func New(addr string, controller StateReporter, log *logger.Logger, debugMode bool) *Server {
	if !debugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmw.RequestLogger(log, "httpapi"))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/state", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"state":     controller.CurrentState().String(),
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
		logger: log,
	}
}

// Run starts serving and blocks until ctx is cancelled, then shuts down
// gracefully within a 5 second grace period.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("httpapi server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("httpapi server shutdown error", zap.Error(err))
			return err
		}
		return nil
	case err := <-errCh:
		return err
	}
}
