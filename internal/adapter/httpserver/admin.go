package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pscheid92/keyrelay/internal/adapter/metrics"
	"github.com/pscheid92/keyrelay/internal/platform/correlation"
)

// AdminConfig wires the admin listener.
type AdminConfig struct {
	Port           string
	MetricsHandler http.Handler
	HTTPMetrics    *metrics.HTTPMetrics
	HealthChecks   []HealthCheck
	Clock          clockwork.Clock
}

// NewAdminServer serves health probes, Prometheus metrics and build info.
func NewAdminServer(cfg AdminConfig) *Server {
	s := newServer("admin", cfg.Port)
	s.echo.Use(correlationMiddleware)
	s.echo.Use(requestLoggerMiddleware())
	if cfg.HTTPMetrics != nil {
		s.echo.Use(cfg.HTTPMetrics.Middleware())
	}

	h := &healthHandlers{checks: cfg.HealthChecks, clock: cfg.Clock, startTime: cfg.Clock.Now()}
	s.echo.GET("/health/live", h.handleLiveness)
	s.echo.GET("/health/ready", h.handleReadiness)
	s.echo.GET("/version", handleVersion)
	s.echo.GET("/metrics", echo.WrapHandler(cfg.MetricsHandler))
	return s
}

func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := correlation.WithID(c.Request().Context(), correlation.NewID())
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

func requestLoggerMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics" || c.Path() == "/health/live"
		},
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency.Round(time.Microsecond),
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			slog.InfoContext(c.Request().Context(), "Request", attrs...)
			return nil
		},
	})
}
