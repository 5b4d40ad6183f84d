// Package server exposes the detection engine over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/marine-detect/inference"
	"github.com/nvr-ai/marine-detect/metrics"
	"github.com/nvr-ai/marine-detect/models"
)

const (
	// RequestIDHeader carries the request id on every response.
	RequestIDHeader = "X-Request-ID"

	requestIDKey    = "request_id"
	shutdownTimeout = 10 * time.Second
)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the access and error logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics serves the collector on GET /metrics.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) { s.metrics = c }
}

// WithDisplayConfidence sets the default threshold of annotated images.
func WithDisplayConfidence(v float32) Option {
	return func(s *Server) { s.displayConfidence = v }
}

// WithClasses sets the taxonomy used for summaries and box colors.
func WithClasses(classes *models.OutputClassSet) Option {
	return func(s *Server) {
		if classes != nil {
			s.classes = classes
		}
	}
}

// WithMaxUploadBytes bounds request bodies; 0 means unbounded.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) { s.maxUploadBytes = n }
}

// Server is the HTTP API in front of an inference.Engine.
type Server struct {
	engine            *inference.Engine
	metrics           *metrics.Collector
	logger            *zap.Logger
	classes           *models.OutputClassSet
	displayConfidence float32
	maxUploadBytes    int64
	router            *gin.Engine
}

// New creates the API server and its routes.
//
// Arguments:
//   - engine: Runs the models; owned by the caller.
//   - opts: Optional logger, metrics, display threshold, taxonomy and upload limit.
//
// Returns:
//   - *Server: The server.
func New(engine *inference.Engine, opts ...Option) *Server {
	s := &Server{
		engine:            engine,
		logger:            zap.NewNop(),
		classes:           models.MarineClasses,
		displayConfidence: 0.5,
	}
	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestID(), s.accessLog(), s.limitBody())

	api := r.Group("/api")
	api.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	api.GET("/models", s.listModels)
	api.POST("/detect/:model", s.detect)
	api.POST("/compare", s.compare)
	api.POST("/annotate/:model", s.annotate)

	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	s.router = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "serve http")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("http server shutting down")
	return errors.Wrap(srv.Shutdown(shutdownCtx), "shutdown http server")
}

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.Info("http request",
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func (s *Server) limitBody() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.maxUploadBytes > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUploadBytes)
		}
		c.Next()
	}
}
