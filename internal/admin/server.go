// Package admin provides the local administrative API for managing
// gateway credentials at runtime.
package admin

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/krestgw/internal/auth/basic"
)

// ginModeOnce ensures gin.SetMode is only called once.
var ginModeOnce sync.Once

// ReloadFunc re-reads credentials from the backing store.
type ReloadFunc func(ctx context.Context) error

// Server is the administrative HTTP server. It is expected to listen
// on a loopback address; it carries no authentication of its own.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	store      basic.Store
	reload     ReloadFunc
	logger     *zap.Logger
	address    string
	mu         sync.Mutex
	running    bool
}

// Option is a functional option for configuring the admin server.
type Option func(*Server)

// WithReloadFunc sets the function invoked by POST /admin/reload.
func WithReloadFunc(fn ReloadFunc) Option {
	return func(s *Server) {
		s.reload = fn
	}
}

// WithLogger sets the logger for the admin server.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates an admin server bound to the given address.
func NewServer(address string, store basic.Store, opts ...Option) (*Server, error) {
	if store == nil {
		return nil, errors.New("admin: store is required")
	}

	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	s := &Server{
		engine:  gin.New(),
		store:   store,
		logger:  zap.NewNop(),
		address: address,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.engine.Use(gin.Recovery())
	s.registerRoutes()

	return s, nil
}

// Engine returns the underlying gin engine, mainly for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start begins serving the admin API. It blocks until the listener
// fails or Stop is called.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("admin: server already running")
	}

	s.httpServer = &http.Server{
		Addr:              s.address,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("starting admin server", zap.String("address", s.address))

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the admin server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	return s.httpServer.Shutdown(ctx)
}
