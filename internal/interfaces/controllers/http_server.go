package controllers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouteRegistrar is a controller that mounts its handlers on a route group
type RouteRegistrar interface {
	GetName() string
	RegisterRoutes(g *echo.Group)
}

// HTTPServer hosts the echo router of the backend API or the device agent
type HTTPServer struct {
	echo   *echo.Echo
	logger *slog.Logger
}

// NewHTTPServer creates the router with recovery, request logging and, when gatherer is
// set, a /metrics endpoint
func NewHTTPServer(logger *slog.Logger, gatherer prometheus.Gatherer) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
			if v.Error != nil {
				logger.Warn("request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			logger.Debug("request", attrs...)
			return nil
		},
	}))

	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return &HTTPServer{echo: e, logger: logger}
}

// Register mounts controllers under prefix behind the given middleware
func (s *HTTPServer) Register(prefix string, mw []echo.MiddlewareFunc, controllers ...RouteRegistrar) {
	g := s.echo.Group(prefix, mw...)
	for _, c := range controllers {
		c.RegisterRoutes(g)
		s.logger.Debug("registered controller", "controller", c.GetName(), "prefix", prefix)
	}
}

// Handler exposes the router, mainly for tests
func (s *HTTPServer) Handler() http.Handler {
	return s.echo
}

// Run serves on address until ctx is cancelled, then shuts down gracefully
func (s *HTTPServer) Run(ctx context.Context, address string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "address", address)
		if err := s.echo.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
