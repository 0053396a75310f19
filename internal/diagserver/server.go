// Package diagserver serves pipeline diagnostics over HTTP.
//
// Routes:
//
//	GET  /diag                       queue counters, item count, throughput
//	GET  /top/sequences?limit=N      serial items with the deepest backlog
//	GET  /top/peak?limit=N           items with the highest definition peak
//	POST /top/peak/reset             reset definition peaks
//	GET  /usage                      worker busy ratios
//	GET  /queue                      pending task count
//	POST /loglevel/:direction        direction is increase or decrease; ?worker=N
//	GET  /metrics                    Prometheus metrics
package diagserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Iron-Ham/ppline/internal/errors"
	"github.com/Iron-Ham/ppline/internal/logging"
	"github.com/Iron-Ham/ppline/internal/pipeline"
)

const (
	// DefaultListen is the address served when none is configured.
	DefaultListen = "127.0.0.1:10055"
	// DefaultTopLimit is the number of items returned by the top routes.
	DefaultTopLimit = 25

	requestIDHeader = "X-Request-ID"
	shutdownTimeout = 5 * time.Second
)

// Manager is the part of the pipeline manager the server exposes.
type Manager interface {
	GetDiagStats() pipeline.DiagStats
	GetTopSequences(n int) []pipeline.TopStat
	GetTopPeaks(n int) []pipeline.TopStat
	ResetPeaks()
	GetWorkerUsage() []float64
	QueueSize() int
	ChangeWorkerLogLevel(worker int, dir pipeline.LogLevelDirection) error
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) { s.logger = l.Component("diag") }
}

// WithGatherer serves g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithThroughput adds the service's last throughput report to /diag.
func WithThroughput(fn func() pipeline.Throughput) Option {
	return func(s *Server) { s.throughput = fn }
}

// Server is the diagnostics HTTP server.
type Server struct {
	mgr        Manager
	logger     *logging.Logger
	gatherer   prometheus.Gatherer
	throughput func() pipeline.Throughput
	router     *gin.Engine
}

// New creates a server over mgr.
func New(mgr Manager, opts ...Option) *Server {
	s := &Server{
		mgr:    mgr,
		logger: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestID())
	router.Use(s.loggingMiddleware())

	router.GET("/diag", s.handleDiag)
	router.GET("/top/sequences", s.handleTopSequences)
	router.GET("/top/peak", s.handleTopPeaks)
	router.POST("/top/peak/reset", s.handleResetPeaks)
	router.GET("/usage", s.handleUsage)
	router.GET("/queue", s.handleQueue)
	router.POST("/loglevel/:direction", s.handleLogLevel)
	if s.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	s.router = router
	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Serve accepts connections on ln until ctx is done, then shuts down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("diagnostics server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("diagnostics server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop diagnostics server: %w", err)
	}
	<-errCh
	s.logger.Info("diagnostics server stopped")
	return nil
}

// ListenAndServe listens on addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultListen
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		s.logger.Debug("diagnostics request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
			"request_id", c.GetString("request_id"),
		)
	}
}
