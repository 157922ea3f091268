// Package backendstub is an in-memory HTTP implementation of the DaktariHub backend contract.
// It backs the integration tests and the daktari-stub command; nothing is persisted.
package backendstub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/daktarihub/daktari-client/internal/limiter"
)

// DefaultAccessTTL is the lifetime of issued access tokens.
const DefaultAccessTTL = 24 * time.Hour

// Config configures the stub.
type Config struct {
	Environment string
	Addr        string
	JWTKey      []byte
	AccessTTL   time.Duration
	Limiter     limiter.Limiter  // defaults to an in-memory limiter with limiter.DefaultPolicy
	Latency     time.Duration    // added before every request is handled
	Now         func() time.Time // defaults to time.Now
}

// Server serves the stub API under /api.
type Server struct {
	engine *gin.Engine
	srv    *http.Server
	log    *zap.Logger
}

// New builds the router. JWTKey is required.
func New(cfg Config, log *zap.Logger) (*Server, error) {
	if len(cfg.JWTKey) == 0 {
		return nil, errors.New("backendstub: missing jwt signing key")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.Limiter == nil {
		cfg.Limiter = limiter.NewMemory(limiter.DefaultPolicy)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	store := newMemStore()
	auth := newAuthService(store, cfg.JWTKey, cfg.AccessTTL, cfg.Limiter)
	auth.now = cfg.Now

	engine := gin.New()
	engine.Use(requestID(), logging(log), recovery(log))
	if cfg.Latency > 0 {
		engine.Use(latency(cfg.Latency))
	}
	engine.NoRoute(func(c *gin.Context) { fail(c, http.StatusNotFound, "Route not found") })

	h := &handlers{auth: auth, store: store, log: log, now: cfg.Now}
	h.register(engine.Group("/api"))

	return &Server{
		engine: engine,
		srv:    &http.Server{Addr: cfg.Addr, Handler: engine, ReadHeaderTimeout: 10 * time.Second},
		log:    log,
	}, nil
}

// Handler exposes the router, e.g. for httptest.NewServer.
func (s *Server) Handler() http.Handler { return s.engine }

// Start serves until Shutdown.
func (s *Server) Start() error {
	s.log.Info("http server starting", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("http server shutting down")
	return s.srv.Shutdown(ctx)
}
