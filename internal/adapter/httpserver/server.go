package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Server is one echo listener.
type Server struct {
	name string
	port string
	echo *echo.Echo
}

func newServer(name, port string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	return &Server{name: name, port: port, echo: e}
}

// NewRelayServer serves the WebSocket upgrade on every path.
func NewRelayServer(port string, upgrade echo.HandlerFunc) *Server {
	s := newServer("relay", port)
	s.echo.GET("/*", upgrade)
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start blocks serving until Shutdown is called.
func (s *Server) Start() error {
	slog.Info("Starting server", "server", s.name, "port", s.port)
	if err := s.echo.Start(":" + s.port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start %s server: %w", s.name, err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown %s server: %w", s.name, err)
	}
	return nil
}
