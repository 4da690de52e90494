// Package v1 provides the operator-facing HTTP handlers.
package v1

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/xiaot623/tenderwatch/internal/domain"
	"github.com/xiaot623/tenderwatch/internal/service"
	"github.com/xiaot623/tenderwatch/internal/transport/http/apierror"
)

// Headers set by the upstream authentication layer.
const (
	HeaderOperatorID   = "X-Operator-ID"
	HeaderOperatorRole = "X-Operator-Role"
)

// Handler handles HTTP requests.
type Handler struct {
	service     *service.Service
	defaultRole string
	upgrader    websocket.Upgrader
	logger      *zap.Logger
}

// NewHandler creates a new handler. defaultRole applies when the request
// carries no operator role.
func NewHandler(service *service.Service, defaultRole string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		service:     service,
		defaultRole: defaultRole,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// The operator UI is served from a different origin.
				return true
			},
		},
		logger: logger,
	}
}

// RegisterRoutes registers operator routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Agent registry
	e.GET("/v1/agents", h.ListAgents)
	e.POST("/v1/agents/register", h.RegisterAgent)
	e.GET("/v1/agents/:agent_id", h.GetAgent)

	// Run control
	e.POST("/v1/agents/:agent_id/start", h.StartAgent)
	e.POST("/v1/agents/:agent_id/stop", h.StopAgent)
	e.GET("/v1/agents/:agent_id/status", h.GetRunStatus)

	// Telemetry
	e.GET("/v1/agents/:agent_id/progress", h.GetProgress)
	e.GET("/v1/agents/:agent_id/history", h.GetHistory)
	e.GET("/v1/agents/:agent_id/history/latest", h.GetLatestHistory)
	e.GET("/v1/agents/:agent_id/screenshot", h.GetScreenshot)

	// Verification
	e.GET("/v1/agents/:agent_id/verification", h.GetVerification)
	e.POST("/v1/agents/:agent_id/verification/submit", h.SubmitVerification)
	e.POST("/v1/agents/:agent_id/verification/cancel", h.CancelVerification)

	// Live events
	e.GET("/v1/agents/:agent_id/events", h.StreamEvents)
	e.GET("/v1/agents/:agent_id/ws", h.StreamWebSocket)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	health, err := h.service.Health(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
	}
	return c.JSON(http.StatusOK, health)
}

func (h *Handler) operator(c echo.Context) domain.Operator {
	op := domain.Operator{
		ID:   c.Request().Header.Get(HeaderOperatorID),
		Role: c.Request().Header.Get(HeaderOperatorRole),
	}
	if op.Role == "" {
		op.Role = h.defaultRole
	}
	return op
}

func (h *Handler) authorize(c echo.Context, action string, agentID int64) error {
	return h.service.Authorize(c.Request().Context(), h.operator(c), action, agentID)
}

// agentParam parses :agent_id and authorizes the action on it. On failure the
// error response has already been written and handled is true.
func (h *Handler) agentParam(c echo.Context, action string) (agentID int64, handled bool, err error) {
	agentID, err = strconv.ParseInt(c.Param("agent_id"), 10, 64)
	if err != nil || agentID <= 0 {
		return 0, true, c.JSON(http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid agent_id %q", c.Param("agent_id"))})
	}
	if err := h.authorize(c, action, agentID); err != nil {
		return 0, true, apierror.JSON(c, err)
	}
	return agentID, false, nil
}
