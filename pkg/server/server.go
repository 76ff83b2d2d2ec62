// Package server exposes flow and single-request runs over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/devicelab-dev/apiflow/pkg/core"
	"github.com/devicelab-dev/apiflow/pkg/executor"
	"github.com/devicelab-dev/apiflow/pkg/logger"
	"github.com/devicelab-dev/apiflow/pkg/store"
)

const (
	shutdownTimeout   = 10 * time.Second
	defaultHistoryMax = 50
)

// Server implements the HTTP run surface
type Server struct {
	runner  *executor.Runner
	flows   store.FlowStore
	history store.HistoryStore
	version string
}

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code,omitempty"`
	Status int    `json:"status"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Service string `json:"service"`
	Version string `json:"version"`
	Status  string `json:"status"`
}

var (
	// ErrInvalidJSON is returned when a request body cannot be decoded
	ErrInvalidJSON = errors.New("invalid JSON")
	// ErrNoStore is returned when an endpoint needs a store that is not configured
	ErrNoStore = errors.New("store not configured")
)

// New creates a server. flows and history may be nil, which disables the
// endpoints that need them.
func New(runner *executor.Runner, flows store.FlowStore, history store.HistoryStore, version string) *Server {
	return &Server{
		runner:  runner,
		flows:   flows,
		history: history,
		version: version,
	}
}

// SetupRoutes configures and returns the HTTP router
func (s *Server) SetupRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())

	router.GET("/health", s.handleHealth)

	router.GET("/flows", s.listFlows)
	router.POST("/flows", s.saveFlow)
	router.GET("/flows/:id", s.getFlow)
	router.POST("/flows/:id/run", s.runFlow)

	router.POST("/requests/run", s.runRequest)
	router.GET("/history", s.listHistory)

	return router
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.L().Info("server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Service: "apiflow",
		Version: s.version,
		Status:  "ok",
	})
}

// requestLogger logs one line per request through the zap logger.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		l := logger.L().With(zap.String("component", "http"))
		if c.Writer.Status() >= http.StatusInternalServerError {
			l.Error("request", fields...)
			return
		}
		l.Info("request", fields...)
	}
}

func abortWithError(c *gin.Context, status int, err error) {
	resp := ErrorResponse{Error: err.Error(), Status: status}
	var ee *core.ExecutionError
	if errors.As(err, &ee) {
		resp.Code = ee.Code
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, resp)
}

// statusFor maps errors that prevent a run from starting to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrFlowNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
