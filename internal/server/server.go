// Package server assembles the echo application: middleware, JWT guard, and
// handler registration.
package server

import (
	"context"
	"log/slog"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/chatlinehq/chatline/internal/auth"
)

// Registrar is anything that mounts routes on the echo instance.
type Registrar interface {
	Register(e *echo.Echo)
}

type Server struct {
	echo *echo.Echo
	addr string
}

// NewServer builds the echo application. Handlers are registered in order;
// nil entries are skipped so optional surfaces can be left unwired.
func NewServer(log *slog.Logger, addr string, jwtSecret string, hs ...Registrar) *Server {
	if addr == "" {
		addr = ":8080"
	}
	if log == nil {
		log = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger(log))
	e.Use(auth.JWTMiddleware(jwtSecret, func(c echo.Context) bool {
		return shouldSkipJWT(c.Request().URL.Path)
	}))

	for _, h := range hs {
		if h != nil {
			h.Register(e)
		}
	}

	return &Server{
		echo: e,
		addr: addr,
	}
}

// shouldSkipJWT marks the paths that authenticate by other means: webhooks
// by platform secret, the widget surface by widget key or session token.
func shouldSkipJWT(path string) bool {
	switch path {
	case "/ping", "/health", "/auth/login", "/realtime/widget":
		return true
	}
	if strings.HasPrefix(path, "/webhooks/") {
		return true
	}
	if strings.HasPrefix(path, "/widget/") {
		return true
	}
	return false
}

func requestLogger(log *slog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.LogAttrs(context.Background(), slog.LevelInfo, "request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			)
			return nil
		},
	})
}

func (s *Server) Start() error {
	return s.echo.Start(s.addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
