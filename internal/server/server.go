package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/codexrelay/codexrelay/internal/gateway"
)

// StatsSource supplies the gateway state snapshot served by /status.
type StatsSource interface {
	Stats() gateway.Stats
}

// Server exposes the liveness and status endpoints.
type Server struct {
	echo    *echo.Echo
	addr    string
	logger  *slog.Logger
	stats   StatsSource
	started time.Time
}

type statusResponse struct {
	Status        string `json:"status"`
	Uptime        string `json:"uptime"`
	Conversations int    `json:"conversations"`
	Sessions      int    `json:"sessions"`
	Sandboxes     int    `json:"sandboxes"`
}

// NewServer builds the HTTP server with its routes registered.
func NewServer(log *slog.Logger, addr string, stats StatsSource) *Server {
	if log == nil {
		log = slog.Default()
	}
	if addr == "" {
		addr = ":8090"
	}

	s := &Server{
		addr:    addr,
		logger:  log.With(slog.String("component", "server")),
		stats:   stats,
		started: time.Now(),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Info("request",
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
			)
			return nil
		},
	}))
	e.GET("/ping", s.ping)
	e.HEAD("/health", s.health)
	e.GET("/status", s.status)
	s.echo = e
	return s
}

// Start serves until Shutdown is called. http.ErrServerClosed is swallowed.
func (s *Server) Start() error {
	s.logger.Info("listening", slog.String("addr", s.addr))
	if err := s.echo.Start(s.addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the underlying router. Used by tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) health(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func (s *Server) status(c echo.Context) error {
	snapshot := s.stats.Stats()
	return c.JSON(http.StatusOK, statusResponse{
		Status:        "ok",
		Uptime:        time.Since(s.started).Round(time.Second).String(),
		Conversations: snapshot.Conversations,
		Sessions:      snapshot.Sessions,
		Sandboxes:     snapshot.Sandboxes,
	})
}
