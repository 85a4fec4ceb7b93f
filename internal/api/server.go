package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/motionlive/motionlive-agent/internal/convert"
	"github.com/motionlive/motionlive-agent/internal/jobs"
	"github.com/motionlive/motionlive-agent/internal/library"
	"github.com/motionlive/motionlive-agent/internal/media"
)

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// Inspector reports whether a file converts without converting it.
type Inspector interface {
	Inspect(ctx context.Context, path string) (*convert.Inspection, error)
}

type ServerConfig struct {
	Port      int
	Jobs      *jobs.Service
	Tokens    TokenStore
	Runner    *jobs.Runner
	Inspector Inspector
	Assets    library.Repository
	Doctor    *media.CachedDoctor
	Events    http.HandlerFunc
	Logger    *slog.Logger
	StartTime time.Time
	Version   string
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
