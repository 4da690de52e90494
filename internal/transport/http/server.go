// Package http provides the HTTP servers of the control plane.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/xiaot623/tenderwatch/internal/service"
	"github.com/xiaot623/tenderwatch/internal/transport/http/internalapi"
	v1 "github.com/xiaot623/tenderwatch/internal/transport/http/v1"
)

// NewExternalServer creates and configures the operator-facing HTTP server.
func NewExternalServer(svc *service.Service, defaultRole string, logger *zap.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	logger = logger.Named("operator_api")
	e.Use(RequestLogger(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	v1.NewHandler(svc, defaultRole, logger).RegisterRoutes(e)

	return e
}

// NewInternalServer creates and configures the agent-facing HTTP server.
func NewInternalServer(svc *service.Service, logger *zap.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(RequestLogger(logger.Named("agent_api")))
	e.Use(middleware.Recover())

	internalapi.NewHandler(svc).RegisterRoutes(e)

	return e
}

// RequestLogger logs one line per request through zap.
func RequestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("remote_ip", v.RemoteIP),
			}
			switch {
			case v.Error != nil:
				logger.Error("request failed", append(fields, zap.Error(v.Error))...)
			case v.Status >= 500:
				logger.Warn("request", fields...)
			default:
				logger.Debug("request", fields...)
			}
			return nil
		},
	})
}
