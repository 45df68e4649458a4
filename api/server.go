// Package api is the HTTP intake of the relay.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/ClipFinance/faucet-relay/common/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Relayer is the relay engine as seen by the HTTP intake.
type Relayer interface {
	Relay(ctx context.Context, claim *types.ClaimRequest) (*types.RelayOutcome, error)
	Status(ctx context.Context, txHash string) (*types.TransactionStatusReport, error)
	MessageHash(ctx context.Context, userAddress, nonce string) (common.Hash, error)
}

// HealthCheck reports an error when a dependency of the relay is unhealthy.
type HealthCheck func(ctx context.Context) error

// Server serves the relay endpoints.
type Server struct {
	relayer Relayer
	logger  *logrus.Logger
	router  *gin.Engine

	mu     sync.Mutex
	server *http.Server

	health  HealthCheck  // Optional readiness check for /health.
	metrics http.Handler // Optional handler mounted on /metrics.
}

// Option configures a Server.
type Option func(*Server)

// WithHealthCheck makes /health report 503 while check fails.
func WithHealthCheck(check HealthCheck) Option {
	return func(s *Server) {
		s.health = check
	}
}

// WithMetricsHandler mounts handler on GET /metrics.
func WithMetricsHandler(handler http.Handler) Option {
	return func(s *Server) {
		s.metrics = handler
	}
}

// NewServer creates the HTTP intake.
//
// Parameters:
// - relayer: the relay engine.
// - logger: the logger.
// - opts: optional settings.
//
// Returns:
// - *Server: the server, not yet listening.
func NewServer(relayer Relayer, logger *logrus.Logger, opts ...Option) *Server {
	s := &Server{
		relayer: relayer,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestID(), accessLog(logger), allowCORS())

	router.POST("/execute", s.execute)
	router.GET("/status/:txHash", s.status)
	router.GET("/message-hash", s.messageHash)
	router.GET("/health", s.healthz)
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics))
	}

	s.router = router
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr until Shutdown is called.
//
// Parameters:
// - addr: the listen address, e.g. ":3001".
//
// Returns:
// - error: nil after Shutdown, the listen error otherwise.
func (s *Server) Start(addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.server = server
	s.mu.Unlock()

	s.logger.WithField("addr", addr).Info("Relayer service listening")

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "failed to serve")
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}
