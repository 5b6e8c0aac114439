package hostapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	logpkg "github.com/haukened/rr-pulse/internal/pulse/common/log"
)

const (
	// DefaultMaxRequestBytes caps a single request body read from the host.
	DefaultMaxRequestBytes int64 = 32 << 20
	// DefaultShutdownTimeout bounds graceful HTTP shutdown in Stop.
	DefaultShutdownTimeout = 5 * time.Second

	defaultStreamBuffer = 8
)

// Options configures a Server. Hooks is required; Whitelist, Recorder and
// MetricsHandler are optional.
type Options struct {
	Addr            string
	Hooks           Hooks
	Whitelist       Whitelist
	Recorder        Recorder
	MetricsHandler  http.Handler
	StreamBuffer    int
	MaxRequestBytes int64
	Logger          logpkg.Logger
}

// Server serves the host API on a local TCP listener.
type Server struct {
	addr         string
	hooks        Hooks
	whitelist    Whitelist
	recorder     Recorder
	streamBuffer int
	maxRequest   int64
	router       *gin.Engine
	logger       logpkg.Logger

	mu       sync.RWMutex
	running  bool
	listener net.Listener
	http     *http.Server
	stopCh   chan struct{}
}

// New builds a Server and its routes.
func New(opts Options) (*Server, error) {
	if opts.Hooks == nil {
		return nil, errors.New("hostapi: hooks are required")
	}
	s := &Server{
		addr:         opts.Addr,
		hooks:        opts.Hooks,
		whitelist:    opts.Whitelist,
		recorder:     opts.Recorder,
		streamBuffer: opts.StreamBuffer,
		maxRequest:   opts.MaxRequestBytes,
		logger:       logpkg.OrGlobal(opts.Logger),
		stopCh:       make(chan struct{}),
	}
	if s.recorder == nil {
		s.recorder = nopRecorder{}
	}
	if s.streamBuffer <= 0 {
		s.streamBuffer = defaultStreamBuffer
	}
	if s.maxRequest <= 0 {
		s.maxRequest = DefaultMaxRequestBytes
	}
	s.router = s.routes(opts.MetricsHandler)
	return s, nil
}

// Handler returns the router, for embedding or tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start binds the listener and serves in the background until Stop is called
// or ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("host API already running")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.listener = ln
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.stopCh = make(chan struct{})
	s.running = true

	s.logger.Info(map[string]any{
		"transport": "http",
		"address":   ln.Addr().String(),
	}, "Host API started")

	srv, stopCh := s.http, s.stopCh
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(map[string]any{"error": err.Error()}, "Host API serve failed")
		}
	}()
	go func() {
		select {
		case <-ctx.Done():
			s.logger.Debug(nil, "Host API stopping due to context cancellation")
			_ = s.Stop()
		case <-stopCh:
		}
	}()
	return nil
}

// Stop shuts the server down, waiting up to DefaultShutdownTimeout for
// in-flight hook calls. Open stats streams are closed.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	close(s.stopCh)
	ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	err := s.http.Shutdown(ctx)
	if err != nil {
		s.logger.Warn(map[string]any{"error": err.Error()}, "Error shutting down host API")
	}
	s.running = false

	s.logger.Info(map[string]any{
		"transport": "http",
		"address":   s.listener.Addr().String(),
	}, "Host API stopped")
	return err
}

// Address returns the bound address while running, else the configured one.
func (s *Server) Address() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.running && s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// stopping is closed when Stop begins; streams watch it because Shutdown
// does not track hijacked connections.
func (s *Server) stopping() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopCh
}

func (s *Server) routes(metricsHandler http.Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.observe())

	r.GET("/healthz", s.health)
	if metricsHandler != nil {
		r.GET("/metrics", gin.WrapH(metricsHandler))
	}

	v1 := r.Group("/v1")
	hooks := v1.Group("/hooks")
	hooks.POST("/before-request", s.beforeRequest)
	hooks.POST("/before-send-headers", s.beforeSendHeaders)
	hooks.POST("/response-body/:requestId", s.responseBody)

	v1.GET("/state", s.getState)
	v1.PUT("/state", s.putState)

	v1.GET("/stats", s.getStats)
	v1.DELETE("/stats", s.resetStats)
	v1.GET("/stats/stream", s.streamStats)

	if s.whitelist != nil {
		v1.GET("/whitelist", s.listWhitelist)
		v1.POST("/whitelist", s.addWhitelist)
		v1.DELETE("/whitelist/:domain", s.removeWhitelist)
	}
	return r
}

// observe records per-route metrics and logs each call at debug.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		elapsed := time.Since(start)
		status := c.Writer.Status()
		s.recorder.ObserveHTTP(c.Request.Method, path, status, elapsed)
		s.logger.Debug(map[string]any{
			"method":  c.Request.Method,
			"path":    path,
			"status":  status,
			"elapsed": elapsed.String(),
		}, "host_api_request")
	}
}
