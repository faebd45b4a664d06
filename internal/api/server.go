// internal/api/server.go

// Package api exposes the fleet over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/tamzrod/motor-fleet/internal/fleet"
	"github.com/tamzrod/motor-fleet/internal/session"
)

// Fleet is the part of fleet.Manager the handlers use.
type Fleet interface {
	Motor(name string) (*fleet.Motor, error)
	Status() []session.Snapshot
	Reset(ctx context.Context, name string) error
}

type Server struct {
	e   *echo.Echo
	log *zap.Logger
}

func New(fl Fleet, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogMethod:  true,
		LogStatus:  true,
		LogLatency: true,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/health"
		},
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Debug("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			)
			return nil
		},
	}))

	registerRoutes(e, &handlers{fleet: fl})

	return &Server{e: e, log: log}
}

func registerRoutes(e *echo.Echo, h *handlers) {
	e.GET("/health", h.health)

	g := e.Group("/api/motors")
	g.GET("", h.listMotors)
	g.GET("/:name", h.getMotor)
	g.GET("/:name/telemetry", h.getTelemetry)
	g.PUT("/:name/rpm", h.setRPM)
	g.POST("/:name/reset", h.reset)
}

func (s *Server) Handler() http.Handler { return s.e }

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	errc := make(chan error, 1)
	go func() {
		s.log.Info("http listening", zap.String("addr", addr))
		errc <- s.e.Start(addr)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
