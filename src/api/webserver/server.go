package webserver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stake-plus/reactionroles/src/actions/core"
	"github.com/stake-plus/reactionroles/src/config"
	"github.com/stake-plus/reactionroles/src/roles"
)

// Store is the read side of the persistence port the API serves.
type Store interface {
	BindingSets(ctx context.Context) ([]roles.BindingSet, error)
	BindingSet(ctx context.Context, messageID string) (*roles.BindingSet, error)
	CleanupQueue(ctx context.Context) ([]roles.CleanupEntry, error)
}

// Sweeper runs an on-demand consistency sweep.
type Sweeper interface {
	FullSweep(ctx context.Context) (*roles.SweepReport, error)
}

var _ core.Module = (*Server)(nil)

// Server is the status API module.
type Server struct {
	cfg    config.StatusConfig
	engine *gin.Engine
	srv    *http.Server
}

// New builds the router. It fails without a JWT secret since every /v1
// route requires a bearer token.
func New(cfg config.StatusConfig, store Store, sweeper Sweeper) (*Server, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("webserver: status_jwt_secret is required")
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	attachRoutes(r, cfg, store, sweeper)
	return &Server{cfg: cfg, engine: r}, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) Name() string { return "status-api" }

func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("webserver: listening on %s", s.cfg.ListenAddr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("webserver: %v", err)
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) {
	if s.srv == nil {
		return
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		log.Printf("webserver: shutdown: %v", err)
	}
}
